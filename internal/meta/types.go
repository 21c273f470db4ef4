// Package meta holds the repository data model and its persistence.
package meta

import (
	"slices"
	"strconv"
)

// CurrentFormat is the descriptor schema version written by this build.
const CurrentFormat = 3

type Modes struct {
	Track    bool `json:"track"`
	Picky    bool `json:"picky"`
	Strict   bool `json:"strict"`
	Compress bool `json:"compress"`
}

// Tracking reports whether files are selected by pattern instead of taking
// the whole tree.
func (m Modes) Tracking() bool {
	return m.Track || m.Picky
}

// Descriptor is the repository-wide metadata record.
type Descriptor struct {
	Format   int                 `json:"format"`
	ID       string              `json:"id"`
	Tags     []string            `json:"tags"`
	Branch   int                 `json:"branch"`
	Branches map[int]*BranchInfo `json:"branches"`
	Modes
	Config map[string][]string `json:"config"`

	// MigratedFrom is the format the descriptor was decoded from when a
	// migration ran, or -1.
	MigratedFrom int `json:"-"`
}

func NewDescriptor(modes Modes) *Descriptor {
	return &Descriptor{
		Format:       CurrentFormat,
		Branches:     map[int]*BranchInfo{},
		Modes:        modes,
		Config:       map[string][]string{},
		MigratedFrom: -1,
	}
}

// BranchIDs returns the branch numbers in ascending order.
func (d *Descriptor) BranchIDs() []int {
	ids := make([]int, 0, len(d.Branches))
	for id := range d.Branches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NextBranchID is one past the largest branch number in use.
func (d *Descriptor) NextBranchID() int {
	next := 0
	for id := range d.Branches {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// FindBranch looks a branch up by name.
func (d *Descriptor) FindBranch(name string) (int, bool) {
	for _, id := range d.BranchIDs() {
		if d.Branches[id].Name == name && name != "" {
			return id, true
		}
	}
	return 0, false
}

func (d *Descriptor) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

type BranchInfo struct {
	Number    int      `json:"number"`
	CTime     int64    `json:"ctime"`
	Name      string   `json:"name,omitempty"`
	InSync    bool     `json:"in_sync"`
	Tracked   []string `json:"tracked"`
	Untracked []string `json:"untracked"`
	Parent    *int     `json:"parent,omitempty"`
	Revision  *int     `json:"revision,omitempty"`
}

// Fast reports whether the branch still refers to its parent's history.
func (b *BranchInfo) Fast() bool {
	return b.Parent != nil && b.Revision != nil
}

// Label is the branch name, or its number when unnamed.
func (b *BranchInfo) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return strconv.Itoa(b.Number)
}

func (b *BranchInfo) Clone() *BranchInfo {
	c := *b
	c.Tracked = slices.Clone(b.Tracked)
	c.Untracked = slices.Clone(b.Untracked)
	if b.Parent != nil {
		p := *b.Parent
		c.Parent = &p
	}
	if b.Revision != nil {
		r := *b.Revision
		c.Revision = &r
	}
	return &c
}

type CommitInfo struct {
	Number  int    `json:"number"`
	CTime   int64  `json:"ctime"`
	Message string `json:"message,omitempty"`
}

// PathInfo describes one file at one revision. A nil Size marks the path as
// deleted at that revision while keeping its NameHash.
type PathInfo struct {
	NameHash string `json:"name_hash"`
	Size     *int64 `json:"size"`
	MTime    int64  `json:"mtime"`
	Hash     string `json:"hash,omitempty"`
}

func (p PathInfo) Deleted() bool {
	return p.Size == nil
}

// SizeOf returns a pointer suitable for PathInfo.Size.
func SizeOf(n int64) *int64 {
	return &n
}

// Tombstone returns p marked as deleted.
func (p PathInfo) Tombstone() PathInfo {
	return PathInfo{NameHash: p.NameHash, MTime: p.MTime}
}

// Same reports whether p and q describe identical content.
func (p PathInfo) Same(q PathInfo) bool {
	if p.Deleted() || q.Deleted() {
		return p.Deleted() == q.Deleted()
	}
	return *p.Size == *q.Size && p.MTime == q.MTime && p.Hash == q.Hash
}

// Intp returns a pointer to n, for BranchInfo.Parent and Revision.
func Intp(n int) *int {
	return &n
}

// Latest returns the highest revision in commits, or -1 when there is none.
func Latest(commits map[int]CommitInfo) int {
	latest := -1
	for n := range commits {
		if n > latest {
			latest = n
		}
	}
	return latest
}
