package meta

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// migrations upgrade a descriptor from the keyed format to the next one.
var migrations = map[int]func(*Descriptor) error{
	0: migrateLegacy,
	1: migrateTrackingLists,
	2: migrateIdentity,
}

// DecodeDescriptor parses descriptor bytes of any known format and upgrades
// them to CurrentFormat. MigratedFrom records the original format when an
// upgrade happened.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty descriptor")
	}

	var d *Descriptor
	if data[0] == '[' {
		legacy, err := decodeLegacy(data)
		if err != nil {
			return nil, err
		}
		d = legacy
	} else {
		d = &Descriptor{}
		if err := json.Unmarshal(data, d); err != nil {
			return nil, fmt.Errorf("decoding descriptor: %w", err)
		}
		if d.Format == 0 {
			d.Format = 1
		}
	}

	from := d.Format
	if from > CurrentFormat {
		return nil, fmt.Errorf("descriptor format %d is newer than supported format %d", from, CurrentFormat)
	}
	for d.Format < CurrentFormat {
		migrate, ok := migrations[d.Format]
		if !ok {
			return nil, fmt.Errorf("no migration from descriptor format %d", d.Format)
		}
		if err := migrate(d); err != nil {
			return nil, fmt.Errorf("migrating descriptor from format %d: %w", d.Format, err)
		}
		d.Format++
	}

	d.MigratedFrom = -1
	if from != CurrentFormat {
		d.MigratedFrom = from
	}
	if d.Branches == nil {
		d.Branches = map[int]*BranchInfo{}
	}
	return d, nil
}

// decodeLegacy reads the positional array written before descriptors were
// keyed: [tags, branch, branches, track, picky, strict, compress, config].
// Missing trailing fields keep their zero value until migrateLegacy pads
// them. The result is format 0.
func decodeLegacy(data []byte) (*Descriptor, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding legacy descriptor: %w", err)
	}

	d := &Descriptor{Format: 0, Branches: map[int]*BranchInfo{}}
	var branches []json.RawMessage
	targets := []any{&d.Tags, &d.Branch, &branches, &d.Track, &d.Picky, &d.Strict, &d.Compress, &d.Config}
	for i, raw := range fields {
		if i >= len(targets) {
			break
		}
		if err := decodeOptional(raw, targets[i]); err != nil {
			return nil, fmt.Errorf("decoding legacy descriptor field %d: %w", i, err)
		}
	}

	for _, raw := range branches {
		b, err := decodeLegacyBranch(raw)
		if err != nil {
			return nil, err
		}
		d.Branches[b.Number] = b
	}
	return d, nil
}

// decodeLegacyBranch reads [number, ctime, name, inSync, tracked, untracked,
// parent, revision].
func decodeLegacyBranch(data []byte) (*BranchInfo, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding legacy branch: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("legacy branch without number")
	}

	var (
		b     BranchInfo
		ctime float64
	)
	targets := []any{&b.Number, &ctime, &b.Name, &b.InSync, &b.Tracked, &b.Untracked, &b.Parent, &b.Revision}
	for i, raw := range fields {
		if i >= len(targets) {
			break
		}
		if err := decodeOptional(raw, targets[i]); err != nil {
			return nil, fmt.Errorf("decoding legacy branch field %d: %w", i, err)
		}
	}
	b.CTime = int64(ctime)
	return &b, nil
}

func decodeOptional(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// migrateLegacy pads the fields a short positional descriptor left out.
func migrateLegacy(d *Descriptor) error {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Config == nil {
		d.Config = map[string][]string{}
	}
	if _, ok := d.Branches[d.Branch]; !ok && len(d.Branches) > 0 {
		ids := d.BranchIDs()
		d.Branch = ids[0]
	}
	return nil
}

// migrateTrackingLists backfills pattern lists and drops fork points that are
// only half recorded.
func migrateTrackingLists(d *Descriptor) error {
	for _, b := range d.Branches {
		if b.Tracked == nil {
			b.Tracked = []string{}
		}
		if b.Untracked == nil {
			b.Untracked = []string{}
		}
		if (b.Parent == nil) != (b.Revision == nil) {
			b.Parent, b.Revision = nil, nil
		}
	}
	return nil
}

func migrateIdentity(d *Descriptor) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Config == nil {
		d.Config = map[string][]string{}
	}
	return nil
}
