// Package merge integrates an incoming version of a text file into the local
// one, line by line and within single lines character by character.
package merge

import (
	"bytes"
	"fmt"
	"strings"

	"sos/internal/diff"
)

// Operation selects which side of a difference is applied.
type Operation int

const (
	// Insert applies only content the incoming side adds.
	Insert Operation = iota + 1
	// Remove applies only content the incoming side removes.
	Remove
	// Both applies insertions and removals.
	Both
	// Ask defers every difference to the Resolver.
	Ask
)

func (o Operation) String() string {
	switch o {
	case Insert:
		return "insert"
	case Remove:
		return "remove"
	case Both:
		return "both"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// ParseOperation accepts the names returned by String.
func ParseOperation(s string) (Operation, error) {
	for _, op := range []Operation{Insert, Remove, Both, Ask} {
		if strings.EqualFold(s, op.String()) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown merge operation %q", s)
}

// EOL is a line ending style.
type EOL int

const (
	// AutoEOL keeps the style found in the local file.
	AutoEOL EOL = iota
	LF
	CRLF
)

func (e EOL) bytes() []byte {
	if e == CRLF {
		return []byte("\r\n")
	}
	return []byte("\n")
}

// DetectEOL returns CRLF when content uses it, LF otherwise.
func DetectEOL(content []byte) EOL {
	if bytes.Contains(content, []byte("\r\n")) {
		return CRLF
	}
	return LF
}

// Resolver answers the questions an Ask operation or an unmergeable file
// raises. Mine is always the local side, theirs the incoming one.
type Resolver interface {
	// Block returns the lines to keep for one differing block.
	Block(mine, theirs []string) ([]string, error)
	// File returns the content to keep for a file that cannot be merged by
	// line.
	File(path string, mine, theirs []byte) ([]byte, error)
	// Apply decides whether an incoming whole-file addition (insert) or
	// removal (!insert) of path takes place.
	Apply(path string, insert bool) (bool, error)
}

// Prefer resolves every question the same way.
type Prefer struct {
	Theirs bool
}

func (p Prefer) Block(mine, theirs []string) ([]string, error) {
	if p.Theirs {
		return theirs, nil
	}
	return mine, nil
}

func (p Prefer) File(_ string, mine, theirs []byte) ([]byte, error) {
	if p.Theirs {
		return theirs, nil
	}
	return mine, nil
}

func (p Prefer) Apply(string, bool) (bool, error) {
	return p.Theirs, nil
}

// Merger merges text content.
type Merger struct {
	resolver Resolver
}

func NewMerger(resolver Resolver) *Merger {
	if resolver == nil {
		resolver = Prefer{}
	}
	return &Merger{resolver: resolver}
}

// Merge integrates file (incoming) into into (local). Line and character
// differences are applied according to lineOp and charOp. The result uses eol,
// or the local style for AutoEOL, which is returned.
func (m *Merger) Merge(file, into []byte, lineOp, charOp Operation, eol EOL) ([]byte, EOL, error) {
	if eol == AutoEOL {
		if len(into) > 0 {
			eol = DetectEOL(into)
		} else {
			eol = DetectEOL(file)
		}
	}

	mine, theirs := splitLines(into), splitLines(file)
	var out []string
	for _, b := range diff.Blocks(mine, theirs) {
		lines, err := m.mergeBlock(b, lineOp, charOp)
		if err != nil {
			return nil, eol, err
		}
		out = append(out, lines...)
	}

	var buf bytes.Buffer
	sep := eol.bytes()
	for i, line := range out {
		if i > 0 {
			buf.Write(sep)
		}
		buf.WriteString(line)
	}
	trailing := endsWithNewline(into)
	if len(into) == 0 {
		trailing = endsWithNewline(file)
	}
	if trailing && len(out) > 0 {
		buf.Write(sep)
	}
	return buf.Bytes(), eol, nil
}

func (m *Merger) mergeBlock(b diff.Block[string], lineOp, charOp Operation) ([]string, error) {
	switch {
	case b.Equal:
		return b.Old, nil
	case lineOp == Ask:
		return m.resolver.Block(b.Old, b.New)
	case len(b.New) == 0:
		if lineOp == Insert {
			return b.Old, nil
		}
		return nil, nil
	case len(b.Old) == 0:
		if lineOp == Remove {
			return nil, nil
		}
		return b.New, nil
	case len(b.Old) == 1 && len(b.New) == 1:
		if charOp == Ask {
			return m.resolver.Block(b.Old, b.New)
		}
		return []string{mergeChars(b.Old[0], b.New[0], charOp)}, nil
	default:
		return replace(b.Old, b.New, lineOp), nil
	}
}

// mergeChars applies the same rules as lines to the runes of one line.
func mergeChars(mine, theirs string, op Operation) string {
	var out []rune
	for _, b := range diff.Blocks([]rune(mine), []rune(theirs)) {
		switch {
		case b.Equal:
			out = append(out, b.Old...)
		case len(b.New) == 0:
			if op == Insert {
				out = append(out, b.Old...)
			}
		case len(b.Old) == 0:
			if op != Remove {
				out = append(out, b.New...)
			}
		default:
			out = append(out, replace(b.Old, b.New, op)...)
		}
	}
	return string(out)
}

// replace resolves a block that differs on both sides.
func replace[T any](mine, theirs []T, op Operation) []T {
	switch op {
	case Insert:
		return append(append([]T(nil), mine...), theirs...)
	case Remove:
		return nil
	default:
		return theirs
	}
}

// splitLines splits on LF and drops a CR before it.
func splitLines(content []byte) []string {
	lines := diff.SplitLines(content)
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func endsWithNewline(content []byte) bool {
	return len(content) > 0 && content[len(content)-1] == '\n'
}
