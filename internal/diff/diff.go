// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
	}
}

// SplitLines splits content on LF. A trailing newline does not start an extra
// line and CR stays part of the line.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	result := &DiffResult{}

	lines := flatten(Blocks(SplitLines(oldContent), SplitLines(newContent)))
	result.Hunks = e.group(lines)

	for _, line := range lines {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result
}

// flatten numbers every line; OldNum and NewNum are 1-based and zero where
// the line does not exist on that side.
func flatten(blocks []Block[string]) []Line {
	var lines []Line
	for _, b := range blocks {
		if b.Equal {
			for k, content := range b.Old {
				lines = append(lines, Line{Type: Context, Content: content, OldNum: b.OldStart + k + 1, NewNum: b.NewStart + k + 1})
			}
			continue
		}
		for k, content := range b.Old {
			lines = append(lines, Line{Type: Deletion, Content: content, OldNum: b.OldStart + k + 1})
		}
		for k, content := range b.New {
			lines = append(lines, Line{Type: Addition, Content: content, NewNum: b.NewStart + k + 1})
		}
	}
	return lines
}

// group cuts the changed lines and their surrounding context into hunks,
// joining changes whose context overlaps.
func (e *Engine) group(lines []Line) []Hunk {
	var hunks []Hunk
	start, end := -1, -1

	emit := func() {
		if start < 0 {
			return
		}
		hi := min(len(lines), end+e.contextLines)
		h := Hunk{Lines: append([]Line(nil), lines[start:hi]...)}
		for _, l := range h.Lines {
			if l.Type != Addition {
				h.OldLines++
			}
			if l.Type != Deletion {
				h.NewLines++
			}
		}
		h.OldStart, h.NewStart = hunkStart(lines, start)
		hunks = append(hunks, h)
		start, end = -1, -1
	}

	for i, line := range lines {
		if line.Type == Context {
			continue
		}
		if start >= 0 && i-end > 2*e.contextLines {
			emit()
		}
		if start < 0 {
			start = max(0, i-e.contextLines)
		}
		end = i + 1
	}
	emit()

	return hunks
}

// hunkStart returns the old and new line numbers where lines[from:] begins,
// using the unified convention for empty sides.
func hunkStart(lines []Line, from int) (int, int) {
	oldPos, newPos := 0, 0
	for _, l := range lines[:from] {
		if l.Type != Addition {
			oldPos++
		}
		if l.Type != Deletion {
			newPos++
		}
	}
	oldStart, newStart := oldPos, newPos
	for _, l := range lines[from:] {
		if l.Type != Addition {
			oldStart = oldPos + 1
			break
		}
	}
	for _, l := range lines[from:] {
		if l.Type != Deletion {
			newStart = newPos + 1
			break
		}
	}
	return oldStart, newStart
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
