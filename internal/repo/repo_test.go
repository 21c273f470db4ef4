package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sos/internal/config"
	sosErrors "sos/internal/errors"
	"sos/internal/merge"
	"sos/internal/meta"
	"sos/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fixture is a working tree whose writes get strictly increasing
// modification times, so mtime based change detection is deterministic.
type fixture struct {
	t     *testing.T
	root  string
	cfg   *config.Config
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:     t,
		root:  t.TempDir(),
		cfg:   config.Default(),
		clock: time.Now().Add(-time.Hour).Truncate(time.Second),
	}
}

func (f *fixture) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	abs := f.abs(rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(f.t, os.WriteFile(abs, []byte(content), 0644))
	f.clock = f.clock.Add(time.Second)
	require.NoError(f.t, os.Chtimes(abs, f.clock, f.clock))
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	content, err := os.ReadFile(f.abs(rel))
	require.NoError(f.t, err)
	return string(content)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(f.abs(rel))
	return err == nil
}

func (f *fixture) remove(rel string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(f.abs(rel)))
}

func (f *fixture) offline(modes meta.Modes, opts ...Option) *Repository {
	f.t.Helper()
	r, err := Offline(f.root, f.cfg, zaptest.NewLogger(f.t), "main", modes, opts...)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { r.Close() })
	return r
}

func (f *fixture) open(opts ...Option) *Repository {
	f.t.Helper()
	r, err := Open(f.root, f.cfg, zaptest.NewLogger(f.t), opts...)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { r.Close() })
	return r
}

func (f *fixture) commit(r *Repository, message string) int {
	f.t.Helper()
	revision, _, err := r.Commit(message, CommitOptions{})
	require.NoError(f.t, err)
	return revision
}

func TestOfflineAndOpen(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{})

	assert.NotEmpty(t, r.ID())
	assert.Equal(t, 0, r.Current())
	info, ok := r.BranchInfo(0)
	require.True(t, ok)
	assert.True(t, info.InSync)
	assert.Equal(t, "main", info.Name)

	files, err := r.Files("")
	require.NoError(t, err)
	assert.Contains(t, files, "a.txt")

	_, err = Offline(f.root, f.cfg, zap.NewNop(), "", meta.Modes{})
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypePrecondition))

	reopened := f.open()
	assert.Equal(t, r.ID(), reopened.ID())

	_, err = Open(t.TempDir(), f.cfg, zap.NewNop())
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))
}

func TestChangesIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	f.write("dir/b.txt", "beta")
	r := f.offline(meta.Modes{})

	for i := 0; i < 2; i++ {
		changes, err := r.Changes("")
		require.NoError(t, err)
		assert.True(t, changes.Empty())
	}

	f.write("c.txt", "gamma")
	first, err := r.Changes("")
	require.NoError(t, err)
	second, err := r.Changes("")
	require.NoError(t, err)
	assert.Len(t, first.Additions, 1)
	assert.Equal(t, first, second)
}

func TestStrictOverride(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	f.write("b.txt", "beta")
	r := f.offline(meta.Modes{})

	// Same size and modification time, different content.
	stat, err := os.Stat(f.abs("a.txt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.abs("a.txt"), []byte("omega"), 0644))
	require.NoError(t, os.Chtimes(f.abs("a.txt"), stat.ModTime(), stat.ModTime()))

	changes, err := r.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	var scanned []int
	strict := f.open(WithStrict(true), WithProgress(func(n int) { scanned = append(scanned, n) }))
	changes, err = strict.Changes("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, changes.Paths())
	assert.Contains(t, changes.Modifications, "a.txt")
	assert.Equal(t, []int{1, 2}, scanned)

	lax := f.open(WithStrict(false))
	changes, err = lax.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())
}

func TestMoveDetection(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "same content")
	r := f.offline(meta.Modes{})

	require.NoError(t, os.Rename(f.abs("a.txt"), f.abs("b.txt")))

	changes, err := r.Changes("")
	require.NoError(t, err)
	require.Contains(t, changes.Moves, "b.txt")
	assert.Equal(t, "a.txt", changes.Moves["b.txt"].From)
	assert.Contains(t, changes.Additions, "b.txt")
	assert.Contains(t, changes.Deletions, "a.txt")
}

func TestCommitDiscipline(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "one")
	r := f.offline(meta.Modes{})

	_, _, err := r.Commit("nothing", CommitOptions{})
	require.Error(t, err)
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypePrecondition))
	assert.True(t, sosErrors.IsForceable(err))
	_, statErr := os.Stat(meta.Layout{Root: f.root}.Revision(0, 1))
	assert.True(t, os.IsNotExist(statErr))

	f.write("a.txt", "one more")
	assert.Equal(t, 1, f.commit(r, "second"))

	entries, err := r.Log("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[1].Commit.Number)
	assert.Equal(t, "second", entries[1].Commit.Message)
	assert.Equal(t, 1, entries[1].Modified)

	revision, _, err := r.Commit("forced", CommitOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, revision)

	info, _ := r.BranchInfo(0)
	assert.False(t, info.InSync)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha\n")
	f.write("sub/b.txt", "beta\n")
	f.write("empty.txt", "")
	r := f.offline(meta.Modes{Compress: true})

	tree := map[string]string{}
	for _, p := range []string{"a.txt", "sub/b.txt", "empty.txt"} {
		tree[p] = f.read(p)
	}

	id, _, err := r.Branch(BranchOptions{Name: "dev"})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 1, r.Current())

	f.write("a.txt", "ALPHA changed\n")
	f.remove("sub/b.txt")
	f.write("c.txt", "new\n")
	f.commit(r, "dev work")

	require.NoError(t, r.Switch("main", false))
	assert.Equal(t, 0, r.Current())
	for p, content := range tree {
		assert.Equal(t, content, f.read(p), p)
	}
	assert.False(t, f.exists("c.txt"))

	changes, err := r.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	require.NoError(t, r.Switch("dev", false))
	assert.Equal(t, "ALPHA changed\n", f.read("a.txt"))
	assert.Equal(t, "new\n", f.read("c.txt"))
	assert.False(t, f.exists("sub/b.txt"))
}

func TestSwitchConflicts(t *testing.T) {
	t.Run("local modification needs force", func(t *testing.T) {
		f := newFixture(t)
		f.write("a.txt", "alpha")
		r := f.offline(meta.Modes{})

		_, _, err := r.Branch(BranchOptions{Name: "dev"})
		require.NoError(t, err)
		f.write("a.txt", "changed on dev")
		f.commit(r, "dev")
		f.write("a.txt", "local edit")

		err = r.Switch("main", false)
		require.Error(t, err)
		assert.True(t, sosErrors.IsForceable(err))
		assert.Equal(t, "local edit", f.read("a.txt"))

		require.NoError(t, r.Switch("main", true))
		assert.Equal(t, "alpha", f.read("a.txt"))
	})

	t.Run("identical local addition is no conflict", func(t *testing.T) {
		f := newFixture(t)
		f.write("a.txt", "alpha")
		r := f.offline(meta.Modes{Strict: true})

		_, _, err := r.Branch(BranchOptions{Name: "dev"})
		require.NoError(t, err)
		f.write("new.txt", "shared")
		f.commit(r, "add new")

		require.NoError(t, r.Switch("main", false))
		assert.False(t, f.exists("new.txt"))

		f.write("new.txt", "shared")
		require.NoError(t, r.Switch("dev", false))
		assert.Equal(t, "shared", f.read("new.txt"))
	})
}

func TestBranchNumbering(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{})

	for want := 1; want <= 4; want++ {
		id, _, err := r.Branch(BranchOptions{Stay: true})
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	status, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Branch)
	var ids []int
	for _, b := range status.Branches {
		ids = append(ids, b.Info.Number)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ids)

	_, _, err = r.Branch(BranchOptions{Name: "main"})
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypePrecondition))
	_, _, err = r.Branch(BranchOptions{Fast: true})
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeValidation))
}

func TestFastBranchTransparency(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "v0")
	r := f.offline(meta.Modes{})
	for v := 1; v <= 3; v++ {
		f.write("a.txt", fmt.Sprintf("version %d", v))
		f.write(fmt.Sprintf("f%d.txt", v), "file")
		f.commit(r, fmt.Sprintf("v%d", v))
	}

	id, _, err := r.Branch(BranchOptions{Name: "fast", Last: true, Fast: true})
	require.NoError(t, err)
	info, _ := r.BranchInfo(id)
	require.True(t, info.Fast())
	assert.Equal(t, 0, *info.Parent)
	assert.Equal(t, 3, *info.Revision)

	for rev := 0; rev <= 3; rev++ {
		direct, err := r.Files(fmt.Sprintf("main/%d", rev))
		require.NoError(t, err)
		viaFast, err := r.Files(fmt.Sprintf("fast/%d", rev))
		require.NoError(t, err)
		assert.Equal(t, direct, viaFast)

		for p := range direct {
			want, err := r.Cat(fmt.Sprintf("main/%d", rev), p)
			require.NoError(t, err)
			got, err := r.Cat(fmt.Sprintf("fast/%d", rev), p)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%s at revision %d", p, rev)
		}
	}

	changes, err := r.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())
}

func TestDependentMaterialization(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "base")
	r := f.offline(meta.Modes{})

	one, _, err := r.Branch(BranchOptions{Name: "one"})
	require.NoError(t, err)
	for v := 1; v <= 3; v++ {
		f.write("a.txt", fmt.Sprintf("one v%d", v))
		f.write(fmt.Sprintf("f%d.txt", v), fmt.Sprintf("content %d", v))
		f.commit(r, fmt.Sprintf("v%d", v))
	}
	two, _, err := r.Branch(BranchOptions{Name: "two", Last: true, Fast: true})
	require.NoError(t, err)

	before := map[int]map[string][]byte{}
	for rev := 0; rev <= 3; rev++ {
		files, err := r.Files(fmt.Sprintf("two/%d", rev))
		require.NoError(t, err)
		before[rev] = map[string][]byte{}
		for p := range files {
			content, err := r.Cat(fmt.Sprintf("two/%d", rev), p)
			require.NoError(t, err)
			before[rev][p] = content
		}
	}

	require.NoError(t, r.Destroy("one", false))

	_, exists := r.BranchInfo(one)
	assert.False(t, exists)
	info, _ := r.BranchInfo(two)
	assert.False(t, info.Fast())
	assert.DirExists(t, meta.Layout{Root: f.root}.Branch(one)+".bak")

	for rev := 0; rev <= 3; rev++ {
		files, err := r.Files(fmt.Sprintf("two/%d", rev))
		require.NoError(t, err)
		assert.ElementsMatch(t, utils.SortedKeys(before[rev]), utils.SortedKeys(files))
		for p, want := range before[rev] {
			got, err := r.Cat(fmt.Sprintf("two/%d", rev), p)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%s at revision %d", p, rev)
		}
	}
}

func TestIdentityPreservation(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "same")
	f.write("other.txt", "same")
	r := f.offline(meta.Modes{})

	files, err := r.Files("")
	require.NoError(t, err)
	original := files["a.txt"].NameHash
	assert.NotEqual(t, original, files["other.txt"].NameHash)

	f.remove("a.txt")
	f.commit(r, "delete")
	files, err = r.Files("")
	require.NoError(t, err)
	assert.NotContains(t, files, "a.txt")

	f.write("a.txt", "same")
	changes, err := r.Changes("")
	require.NoError(t, err)
	require.Contains(t, changes.Additions, "a.txt")
	assert.Equal(t, original, changes.Additions["a.txt"].NameHash)

	f.commit(r, "re-add")
	files, err = r.Files("")
	require.NoError(t, err)
	assert.Equal(t, original, files["a.txt"].NameHash)

	entries, err := r.Log("")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[1].Deleted)
	assert.Equal(t, 1, entries[2].Added)
}

func TestPickyClearsTrackedOnCommit(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	f.write("b.txt", "beta")
	r := f.offline(meta.Modes{Picky: true})

	files, err := r.Files("")
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, r.Track("a.txt", false))
	changes, err := r.Changes("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, utils.SortedKeys(changes.Additions))

	assert.Equal(t, 1, f.commit(r, "stage a"))
	info, _ := r.BranchInfo(0)
	assert.Empty(t, info.Tracked)

	f.write("a.txt", "alpha changed")
	changes, err = r.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	require.NoError(t, r.Track("*.txt", false))
	changes, err = r.Changes("")
	require.NoError(t, err)
	assert.Contains(t, changes.Modifications, "a.txt")
	assert.Contains(t, changes.Additions, "b.txt")
}

func TestTrackPatterns(t *testing.T) {
	f := newFixture(t)
	f.write("keep.txt", "k")
	f.write("skip.txt", "s")
	r := f.offline(meta.Modes{Track: true})

	require.NoError(t, r.Track("*.txt", false))
	require.NoError(t, r.Track("skip.txt", true))
	require.NoError(t, r.Track("./*.txt", false))

	changes, err := r.Changes("")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, utils.SortedKeys(changes.Additions))

	err = r.Untrack("nope", false)
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))
	require.NoError(t, r.Untrack("skip.txt", true))

	changes, err = r.Changes("")
	require.NoError(t, err)
	assert.Len(t, changes.Additions, 2)

	info, _ := r.BranchInfo(0)
	assert.Equal(t, []string{"*.txt"}, info.Tracked)

	simple := newFixture(t)
	s := simple.offline(meta.Modes{})
	assert.True(t, sosErrors.Is(s.Track("*.txt", false), sosErrors.ErrorTypePrecondition))
}

func TestTagsAndRevisionArguments(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "1")
	r := f.offline(meta.Modes{})

	f.write("a.txt", "22")
	_, _, err := r.Commit("v1", CommitOptions{Tag: true})
	require.NoError(t, err)

	_, _, err = r.Commit("v1", CommitOptions{Force: true, Tag: true})
	require.Error(t, err)
	assert.False(t, sosErrors.IsForceable(err))

	f.write("a.txt", "333")
	f.commit(r, "later")
	assert.Equal(t, []string{"v1"}, r.Tags())

	tests := []struct {
		arg  string
		want string
	}{
		{"v1", "22"},
		{"", "333"},
		{"/-1", "333"},
		{"/0", "1"},
		{"main/1", "22"},
		{"0/-2", "22"},
	}
	for _, tt := range tests {
		t.Run("arg "+tt.arg, func(t *testing.T) {
			content, err := r.Cat(tt.arg, "a.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(content))
		})
	}

	_, err = r.Cat("/7", "a.txt")
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))
	_, err = r.Cat("nosuch", "a.txt")
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))
	_, err = r.Cat("/x", "a.txt")
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeValidation))
	_, err = r.Cat("", "missing.txt")
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))

	entries, err := r.Log("")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[1].Tagged)
	assert.False(t, entries[2].Tagged)
}

type recordingResolver struct {
	answer  bool
	applied []string
	files   []string
}

func (r *recordingResolver) Block(_, theirs []string) ([]string, error) {
	return theirs, nil
}

func (r *recordingResolver) File(p string, _, theirs []byte) ([]byte, error) {
	r.files = append(r.files, p)
	return theirs, nil
}

func (r *recordingResolver) Apply(p string, insert bool) (bool, error) {
	r.applied = append(r.applied, fmt.Sprintf("%s:%v", p, insert))
	return r.answer, nil
}

func TestUpdate(t *testing.T) {
	setup := func(t *testing.T, opts ...Option) (*fixture, *Repository) {
		f := newFixture(t)
		f.write("a.txt", "one\ntwo\n")
		f.write("b.txt", "bee\n")
		f.write("bin.dat", "\x00\x01")
		r := f.offline(meta.Modes{}, opts...)

		_, _, err := r.Branch(BranchOptions{Name: "dev"})
		require.NoError(t, err)
		f.write("a.txt", "one\n2\n")
		f.remove("b.txt")
		f.write("c.txt", "sea\n")
		f.write("bin.dat", "\x00\x02\x03")
		f.commit(r, "dev")

		require.NoError(t, r.Switch("main", false))
		f.write("d.txt", "local\n")
		return f, r
	}

	t.Run("both", func(t *testing.T) {
		f, r := setup(t, WithResolver(merge.Prefer{Theirs: true}))
		require.NoError(t, r.Update("dev", DefaultUpdateOptions()))

		assert.Equal(t, 0, r.Current())
		assert.Equal(t, "one\n2\n", f.read("a.txt"))
		assert.Equal(t, "sea\n", f.read("c.txt"))
		assert.Equal(t, "\x00\x02\x03", f.read("bin.dat"))
		assert.False(t, f.exists("b.txt"))
		assert.Equal(t, "local\n", f.read("d.txt"), "uncommitted additions survive")

		info, _ := r.BranchInfo(0)
		assert.False(t, info.InSync)
	})

	t.Run("insert only", func(t *testing.T) {
		f, r := setup(t)
		opts := DefaultUpdateOptions()
		opts.FileOp = merge.Insert
		require.NoError(t, r.Update("dev", opts))

		assert.True(t, f.exists("b.txt"))
		assert.Equal(t, "sea\n", f.read("c.txt"))
		assert.Equal(t, "\x00\x01", f.read("bin.dat"), "binary conflict keeps the local side by default")
	})

	t.Run("remove only", func(t *testing.T) {
		f, r := setup(t)
		opts := DefaultUpdateOptions()
		opts.FileOp = merge.Remove
		require.NoError(t, r.Update("dev", opts))

		assert.False(t, f.exists("b.txt"))
		assert.False(t, f.exists("c.txt"))
		assert.True(t, f.exists("d.txt"))
	})

	t.Run("ask", func(t *testing.T) {
		resolver := &recordingResolver{}
		f, r := setup(t, WithResolver(resolver))
		opts := DefaultUpdateOptions()
		opts.FileOp = merge.Ask
		require.NoError(t, r.Update("dev", opts))

		assert.Equal(t, []string{"b.txt:false", "c.txt:true"}, resolver.applied)
		assert.ElementsMatch(t, []string{"a.txt", "bin.dat"}, resolver.files)
		assert.True(t, f.exists("b.txt"))
		assert.False(t, f.exists("c.txt"))
		assert.Equal(t, "one\n2\n", f.read("a.txt"))
	})

	t.Run("invalid options", func(t *testing.T) {
		_, r := setup(t)
		err := r.Update("dev", UpdateOptions{})
		assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeValidation))
	})
}

func TestUpdateMergesTrackedPatterns(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "a")
	r := f.offline(meta.Modes{Track: true})
	require.NoError(t, r.Track("*.txt", false))
	f.commit(r, "track txt")

	_, _, err := r.Branch(BranchOptions{Name: "dev"})
	require.NoError(t, err)
	require.NoError(t, r.Track("*.md", false))
	f.write("readme.md", "docs")
	f.commit(r, "docs")

	require.NoError(t, r.Switch("main", false))
	require.NoError(t, r.Update("dev", DefaultUpdateOptions()))

	info, _ := r.BranchInfo(0)
	assert.Equal(t, []string{"*.txt", "*.md"}, info.Tracked)
	assert.Equal(t, "docs", f.read("readme.md"))
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{})

	err := r.Destroy("", false)
	require.Error(t, err)
	assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypePrecondition))
	assert.False(t, sosErrors.IsForceable(err))

	_, _, err = r.Branch(BranchOptions{Name: "dev"})
	require.NoError(t, err)
	f.write("x.txt", "uncommitted")

	err = r.Destroy("main", false)
	assert.True(t, sosErrors.IsForceable(err))
	require.NoError(t, r.Destroy("main", true))
	_, exists := r.BranchInfo(0)
	assert.False(t, exists)
	assert.Equal(t, 1, r.Current())

	third, _, err := r.Branch(BranchOptions{Name: "third", Stay: true})
	require.NoError(t, err)
	require.NoError(t, r.Destroy("dev", true))
	assert.Equal(t, third, r.Current())
}

func TestOnline(t *testing.T) {
	t.Run("in sync", func(t *testing.T) {
		f := newFixture(t)
		f.write("a.txt", "alpha")
		r := f.offline(meta.Modes{})

		require.NoError(t, r.Online(false))
		assert.NoDirExists(t, filepath.Join(f.root, meta.Dir))
		assert.Equal(t, "alpha", f.read("a.txt"))
	})

	t.Run("out of sync needs force", func(t *testing.T) {
		f := newFixture(t)
		f.write("a.txt", "alpha")
		r := f.offline(meta.Modes{})
		f.write("a.txt", "beta")
		f.commit(r, "change")

		err := r.Online(false)
		assert.True(t, sosErrors.IsForceable(err))
		assert.DirExists(t, filepath.Join(f.root, meta.Dir))

		require.NoError(t, r.Online(true))
		assert.NoDirExists(t, filepath.Join(f.root, meta.Dir))
	})
}

func TestDescriptorRecovery(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{})
	id := r.ID()
	require.NoError(t, r.Close())

	layout := meta.Layout{Root: f.root}

	t.Run("migration is saved", func(t *testing.T) {
		data, err := os.ReadFile(layout.DescriptorFile())
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		raw["format"] = 2
		raw["id"] = ""
		data, err = json.Marshal(raw)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(layout.DescriptorFile(), data, 0644))

		migrated := f.open()
		assert.NotEmpty(t, migrated.ID())
		assert.NotEqual(t, id, migrated.ID())

		data, err = os.ReadFile(layout.DescriptorFile())
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.EqualValues(t, meta.CurrentFormat, raw["format"])

		changes, err := migrated.Changes("")
		require.NoError(t, err)
		assert.True(t, changes.Empty())
	})

	t.Run("unreadable descriptor degrades", func(t *testing.T) {
		require.NoError(t, os.WriteFile(layout.DescriptorFile(), []byte("{not json"), 0644))

		degraded := f.open()
		assert.Empty(t, degraded.ID())
		_, err := degraded.Changes("")
		assert.True(t, sosErrors.Is(err, sosErrors.ErrorTypeNotFound))
	})
}

func TestBadgerBackend(t *testing.T) {
	f := newFixture(t)
	f.cfg.Storage.Backend = config.BackendBadger
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{Compress: true})

	_, _, err := r.Branch(BranchOptions{Name: "dev"})
	require.NoError(t, err)
	f.write("a.txt", "alpha on dev")
	f.commit(r, "dev")
	require.NoError(t, r.Switch("main", false))
	assert.Equal(t, "alpha", f.read("a.txt"))
	require.NoError(t, r.Close())

	assert.DirExists(t, meta.Layout{Root: f.root}.Database())
	assert.NoFileExists(t, meta.Layout{Root: f.root}.DescriptorFile())

	f.cfg.Storage.Backend = config.BackendFile
	reopened := f.open()
	assert.Equal(t, r.ID(), reopened.ID())
	content, err := reopened.Cat("dev/1", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha on dev", string(content))
}

func TestDiff(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "1\n2\n3\n")
	f.write("bin.dat", "\x00\x01")
	f.write("gone.txt", "bye\n")
	r := f.offline(meta.Modes{}, WithContextLines(1))

	f.write("a.txt", "1\ntwo\n3\n")
	f.write("bin.dat", "\x00\x02\x03")
	f.write("new.txt", "n\n")
	f.remove("gone.txt")

	diffs, err := r.Diff("")
	require.NoError(t, err)
	require.Len(t, diffs, 4)

	assert.Equal(t, "a.txt", diffs[0].Path)
	assert.Equal(t, "modified", diffs[0].Kind)
	require.NotNil(t, diffs[0].Result)
	assert.Equal(t, 1, diffs[0].Result.Stats.Additions)
	assert.Equal(t, 1, diffs[0].Result.Stats.Deletions)

	assert.Equal(t, "bin.dat", diffs[1].Path)
	assert.True(t, diffs[1].Binary)
	assert.Nil(t, diffs[1].Result)

	assert.Equal(t, "gone.txt", diffs[2].Path)
	assert.Equal(t, "deleted", diffs[2].Kind)
	assert.Equal(t, 1, diffs[2].Result.Stats.Deletions)

	assert.Equal(t, "new.txt", diffs[3].Path)
	assert.Equal(t, "added", diffs[3].Kind)
	assert.Equal(t, 1, diffs[3].Result.Stats.Additions)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "alpha")
	r := f.offline(meta.Modes{})

	_, _, err := r.Branch(BranchOptions{Name: "dev", Last: true, Fast: true, Stay: true})
	require.NoError(t, err)
	f.write("n.txt", "n")

	status, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Branch)
	require.Len(t, status.Branches, 2)
	assert.True(t, status.Branches[0].Current)
	assert.Equal(t, 1, status.Branches[0].Revisions)
	assert.True(t, status.Branches[1].Info.Fast())
	assert.Equal(t, 2, status.Branches[1].Revisions)
	assert.Contains(t, status.Changes.Additions, "n.txt")
}
