package validation

import (
	"path"
	"regexp"
	"strings"

	"sos/internal/errors"
)

// Validator is implemented by option structs that check themselves.
type Validator interface {
	Validate() error
}

// Check returns the first error reported by vs.
func Check(vs ...Validator) error {
	for _, v := range vs {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

var (
	numeric     = regexp.MustCompile(`^-?[0-9]+$`)
	revisionArg = regexp.MustCompile(`^([^/]*)(?:/(-?[0-9]*))?$`)
)

// BranchName checks a user supplied branch name. Empty names are allowed and
// leave the branch unnamed.
func BranchName(name string) error {
	switch {
	case name == "":
		return nil
	case strings.TrimSpace(name) != name:
		return errors.ValidationError("branch name must not start or end with whitespace", name)
	case strings.Contains(name, "/"):
		return errors.ValidationError("branch name must not contain '/'", name)
	case numeric.MatchString(name):
		return errors.ValidationError("branch name must not be a number", name)
	case strings.HasPrefix(name, "-"):
		return errors.ValidationError("branch name must not start with '-'", name)
	}
	return nil
}

// Message checks a commit message. Tags need a non-empty message.
func Message(message string, tag bool) error {
	if strings.ContainsRune(message, 0) {
		return errors.ValidationError("message must not contain NUL characters", nil)
	}
	if tag && strings.TrimSpace(message) == "" {
		return errors.ValidationError("a tag needs a message", nil)
	}
	return nil
}

// Pattern checks a tracking pattern relative to the repository root.
func Pattern(p string) error {
	clean := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	switch {
	case clean == "":
		return errors.ValidationError("pattern is required", nil)
	case path.IsAbs(clean):
		return errors.ValidationError("pattern must be relative to the repository root", p)
	case clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../"):
		return errors.ValidationError("pattern must not leave the repository", p)
	}
	return nil
}

// RevisionArg splits "branch/revision" into its parts. Either part may be
// empty. The revision part, when present, is an integer.
func RevisionArg(arg string) (branch, revision string, err error) {
	m := revisionArg.FindStringSubmatch(arg)
	if m == nil {
		return "", "", errors.ValidationError("expected [branch][/revision]", arg)
	}
	return m[1], m[2], nil
}

// IsNumber reports whether s is a (possibly negative) integer literal.
func IsNumber(s string) bool {
	return numeric.MatchString(s)
}
