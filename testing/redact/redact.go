// Package redact masks sensitive substrings before log
// output reaches the console. A Rule is a regular
// expression whose capture groups mark the secret parts
// of a match; everything outside the groups is kept.
package redact

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Mask replaces every character of a captured group.
const Mask = '*'

// Rule masks the capture groups of Pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// NewRule compiles expr into a Rule.
func NewRule(name, expr string) (Rule, error) {
	const errCtx = "compiling redaction rule"

	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf(
			"%s %q: %w", errCtx, name, err,
		)
	}

	return Rule{Name: name, Pattern: re}, nil
}

// MustRule is like NewRule but panics on an invalid
// expression.
func MustRule(name, expr string) Rule {
	r, err := NewRule(name, expr)
	if err != nil {
		panic(err)
	}

	return r
}

// Redact applies rules in order to every item. Each rule
// sees the output of the previous one, so masking only
// ever accumulates.
func Redact(rules []Rule, items ...string) []string {
	out := append([]string(nil), items...)

	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}

		for i, s := range out {
			out[i] = r.apply(s)
		}
	}

	return out
}

// apply masks every capture group of every
// non-overlapping match in s with one Mask per
// character.
func (r Rule) apply(s string) string {
	matches := r.Pattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	masked := make([]bool, len(s))
	hit := false

	for _, m := range matches {
		// Pairs after the first are the groups; -1 marks
		// a group that did not participate.
		for g := 2; g+1 < len(m); g += 2 {
			if m[g] < 0 {
				continue
			}

			for i := m[g]; i < m[g+1]; i++ {
				masked[i] = true
				hit = true
			}
		}
	}

	if !hit {
		return s
	}

	var sb strings.Builder

	sb.Grow(len(s))

	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])

		if masked[i] {
			sb.WriteRune(Mask)
		} else {
			sb.WriteString(s[i : i+size])
		}

		i += size
	}

	return sb.String()
}
