package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"sos/internal/change"
	"sos/internal/meta"
	"sos/internal/repo"
	"sos/shared/utils"

	"github.com/fatih/color"
)

// consoleResolver asks the user on the terminal when an update operation is ask.
type consoleResolver struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsoleResolver(in io.Reader, out io.Writer) *consoleResolver {
	return &consoleResolver{in: bufio.NewReader(in), out: out}
}

func (c *consoleResolver) Block(mine, theirs []string) ([]string, error) {
	removed := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	for _, line := range mine {
		removed.Fprintf(c.out, "- %s\n", line)
	}
	for _, line := range theirs {
		added.Fprintf(c.out, "+ %s\n", line)
	}

	switch answer, err := c.ask("Keep (m)ine, (t)heirs or (b)oth? ", "mtb"); {
	case err != nil:
		return nil, err
	case answer == 'm':
		return mine, nil
	case answer == 't':
		return theirs, nil
	default:
		return append(append([]string(nil), mine...), theirs...), nil
	}
}

func (c *consoleResolver) File(path string, mine, theirs []byte) ([]byte, error) {
	fmt.Fprintf(c.out, "%s cannot be merged by line (%d local bytes, %d incoming)\n", path, len(mine), len(theirs))
	answer, err := c.ask("Keep (m)ine or (t)heirs? ", "mt")
	if err != nil {
		return nil, err
	}
	if answer == 't' {
		return theirs, nil
	}
	return mine, nil
}

func (c *consoleResolver) Apply(path string, insert bool) (bool, error) {
	prompt := fmt.Sprintf("Remove %s? (y/n) ", path)
	if insert {
		prompt = fmt.Sprintf("Restore %s? (y/n) ", path)
	}
	answer, err := c.ask(prompt, "yn")
	return answer == 'y', err
}

// ask repeats prompt until the answer starts with one of choices.
func (c *consoleResolver) ask(prompt, choices string) (byte, error) {
	for {
		fmt.Fprint(c.out, prompt)
		line, err := c.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "" && strings.IndexByte(choices, answer[0]) >= 0 {
			return answer[0], nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading answer: %w", err)
		}
	}
}

// progressEvery is how many scanned files pass between progress lines.
const progressEvery = 500

// progressPrinter rewrites one status line while the working tree is scanned.
type progressPrinter struct {
	out     io.Writer
	every   int
	printed bool
}

func newProgressPrinter(out io.Writer, every int) *progressPrinter {
	if every <= 0 {
		every = 1
	}
	return &progressPrinter{out: out, every: every}
}

func (p *progressPrinter) Scanned(n int) {
	if n%p.every != 0 {
		return
	}
	fmt.Fprintf(p.out, "\rScanned %d files", n)
	p.printed = true
}

// Done ends the status line if one was written.
func (p *progressPrinter) Done() {
	if p.printed {
		fmt.Fprintln(p.out)
		p.printed = false
	}
}

func printNote(msg string) {
	if msg != "" {
		color.New(color.FgBlue).Println(msg)
	}
}

func printChanges(changes change.ChangeSet) {
	if changes.Empty() {
		fmt.Println("No changes detected (working tree clean)")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	moved := map[string]bool{}
	for _, to := range utils.SortedKeys(changes.Moves) {
		from := changes.Moves[to].From
		moved[to], moved[from] = true, true
		fmt.Printf("\t%s %s <- %s\n", cyan("R"), to, from)
	}
	for _, p := range changes.Paths() {
		if moved[p] {
			continue
		}
		switch {
		case inChanges(changes.Additions, p):
			fmt.Printf("\t%s %s\n", green("A"), p)
		case inChanges(changes.Deletions, p):
			fmt.Printf("\t%s %s\n", red("D"), p)
		default:
			fmt.Printf("\t%s %s\n", yellow("M"), p)
		}
	}
}

func inChanges(m map[string]meta.PathInfo, p string) bool {
	_, ok := m[p]
	return ok
}

func printDiffs(diffs []repo.FileDiff) {
	if len(diffs) == 0 {
		fmt.Println("No changes detected (working tree clean)")
		return
	}
	header := color.New(color.FgCyan)
	for _, d := range diffs {
		header.Printf("\ndiff --sos a/%s b/%s (%s)\n", d.Path, d.Path, d.Kind)
		if d.Binary {
			fmt.Println("Binary files differ")
			continue
		}
		printColoredDiff(d.Result.Format())
	}
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func printStatus(status *repo.Status) {
	bold := color.New(color.Bold).SprintFunc()
	for _, b := range status.Branches {
		marker := " "
		if b.Current {
			marker = bold("*")
		}
		var notes []string
		if b.Info.InSync {
			notes = append(notes, "in sync")
		}
		if b.Info.Fast() {
			notes = append(notes, fmt.Sprintf("fast from %d/%d", *b.Info.Parent, *b.Info.Revision))
		}
		fmt.Printf("%s %d %-12s %3d revision(s)  %s\n", marker, b.Info.Number, b.Info.Name, b.Revisions, strings.Join(notes, ", "))
	}

	var modes []string
	for name, on := range map[string]bool{"track": status.Modes.Track, "picky": status.Modes.Picky, "strict": status.Modes.Strict, "compress": status.Modes.Compress} {
		if on {
			modes = append(modes, name)
		}
	}
	if len(modes) > 0 {
		slices.Sort(modes)
		fmt.Println("Modes:", strings.Join(modes, ", "))
	}

	fmt.Printf("\nChanges against branch %d:\n", status.Branch)
	printChanges(status.Changes)
}

func printLog(entries []repo.LogEntry) {
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, e := range entries {
		tag := ""
		if e.Tagged {
			tag = yellow(" [tag]")
		}
		fmt.Printf("r%-4d %s  %s %s ~%d  %s%s\n",
			e.Commit.Number,
			time.UnixMilli(e.Commit.CTime).Format(time.DateTime),
			green(fmt.Sprintf("+%d", e.Added)),
			red(fmt.Sprintf("-%d", e.Deleted)),
			e.Modified,
			e.Commit.Message,
			tag,
		)
	}
}

func printFiles(files map[string]meta.PathInfo) {
	for _, p := range utils.SortedKeys(files) {
		info := files[p]
		fmt.Printf("%10d  %s  %s\n", *info.Size, time.UnixMilli(info.MTime).Format(time.DateTime), p)
	}
}
