package meta

import (
	"fmt"
	"path/filepath"
)

// Dir is the metadata folder at the root of a working tree.
const Dir = ".sos"

const (
	descriptorFile = "repo.json"
	commitsFile    = "commits.json"
	deltaFile      = "delta.json"
	databaseDir    = "db"
	backupSuffix   = ".bak"
)

// Layout maps repository entities to paths under Root.
type Layout struct {
	Root string
}

func (l Layout) Meta() string {
	return filepath.Join(l.Root, Dir)
}

func (l Layout) DescriptorFile() string {
	return filepath.Join(l.Meta(), descriptorFile)
}

func (l Layout) Database() string {
	return filepath.Join(l.Meta(), databaseDir)
}

func (l Layout) Branch(branch int) string {
	return filepath.Join(l.Meta(), fmt.Sprintf("b%d", branch))
}

func (l Layout) CommitsFile(branch int) string {
	return filepath.Join(l.Branch(branch), commitsFile)
}

func (l Layout) Revision(branch, revision int) string {
	return filepath.Join(l.Branch(branch), fmt.Sprintf("r%d", revision))
}

func (l Layout) DeltaFile(branch, revision int) string {
	return filepath.Join(l.Revision(branch, revision), deltaFile)
}

// Blob is where the bytes of the file identified by nameHash are stored when
// they were written at the given revision.
func (l Layout) Blob(branch, revision int, nameHash string) string {
	return filepath.Join(l.Revision(branch, revision), nameHash)
}
