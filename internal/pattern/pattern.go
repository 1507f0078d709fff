// Package pattern implements the regular expression matching used by
// regexp-style routes: ordered pattern chains whose later patterns may
// backreference groups captured by earlier ones, and covering matches of
// {key, value} pattern lists against client metadata.
//
// Patterns use ECMAScript syntax and semantics via github.com/dlclark/regexp2,
// because the standard library's RE2 engine has no backreferences.
package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single match attempt. Matches that time out
// are treated as failures.
const DefaultMatchTimeout = 250 * time.Millisecond

// DefaultOptions are the regexp2 options Compile uses.
const DefaultOptions = regexp2.ECMAScript

// emptyGroup stands in for a backreference that resolves to nothing.
const emptyGroup = "(?:)"

// Pattern is a regular expression that remembers its source text. A pattern
// may reference groups captured by earlier patterns of a chain, so the
// expression actually run is only known once those captures are.
type Pattern struct {
	source  string
	options regexp2.RegexOptions
	groups  int             // capture groups defined by the pattern itself
	re      *regexp2.Regexp // the pattern run with no earlier captures
}

// Compile parses source with DefaultOptions.
func Compile(source string) (*Pattern, error) {
	return CompileWithOptions(source, DefaultOptions)
}

// CompileWithOptions parses source with the given regexp2 options.
// Backreferences are validated as empty groups, since any of them may end up
// referring to a capture of an earlier pattern in a chain.
func CompileWithOptions(source string, options regexp2.RegexOptions) (*Pattern, error) {
	shape, err := compile(rewriteRefs(source, func(int) string { return emptyGroup }), options)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", source, err)
	}
	p := &Pattern{source: source, options: options, groups: len(shape.GetGroupNumbers()) - 1}

	if p.re, err = compile(p.resolve(nil), options); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", source, err)
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Pattern {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

func compile(source string, options regexp2.RegexOptions) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(source, options)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = DefaultMatchTimeout
	return re, nil
}

// String returns the source text.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Equal compares patterns by source text and options, not by instance.
func (p *Pattern) Equal(other *Pattern) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.source == other.source && p.options == other.options
}

// MatchString reports whether the pattern matches anywhere in s.
func (p *Pattern) MatchString(s string) bool {
	_, ok := find(p.re, s)
	return ok
}

// find runs re against subject and returns the text of every capture group
// (group 0 excluded). Groups that did not participate capture "".
func find(re *regexp2.Regexp, subject string) ([]string, bool) {
	m, err := re.FindStringMatch(subject)
	if err != nil || m == nil {
		return nil, false
	}
	groups := m.Groups()
	captures := make([]string, 0, len(groups)-1)
	for _, g := range groups[1:] {
		captures = append(captures, g.String())
	}
	return captures, true
}

// ChainMatch matches patterns[i] against subjects[i], left to right.
//
// Before pattern i is applied, every backreference \N with N no greater than
// the number of groups captured by patterns 0..i-1 is replaced by the literal
// text of that capture. Higher references are renumbered down by that count,
// so they refer to the current pattern's own groups; a reference to a group
// that exists nowhere matches the empty string. The chain fails as soon as one
// pattern fails. An empty chain matches.
func ChainMatch(patterns []*Pattern, subjects []string) bool {
	if len(patterns) != len(subjects) {
		return false
	}

	var captured []string
	for i, p := range patterns {
		if p == nil {
			return false
		}

		re := p.re
		if len(captured) > 0 && strings.Contains(p.source, `\`) {
			var err error
			if re, err = compile(p.resolve(captured), p.options); err != nil {
				return false
			}
		}

		groups, ok := find(re, subjects[i])
		if !ok {
			return false
		}
		captured = append(captured, groups...)
	}
	return true
}

// resolve rewrites the pattern's backreferences against captures taken from
// earlier patterns in a chain.
func (p *Pattern) resolve(captures []string) string {
	return substitute(p.source, captures, p.groups)
}

// substitute replaces \N with the literal text of captures[N-1] when N is no
// greater than len(captures), with \M, M = N-len(captures), when M names one
// of the pattern's own groups, and with an empty group otherwise.
func substitute(source string, captures []string, groups int) string {
	return rewriteRefs(source, func(n int) string {
		if n <= len(captures) {
			// Non-capturing group keeps quantifiers applied to the whole literal.
			return "(?:" + regexp2.Escape(captures[n-1]) + ")"
		}
		if m := n - len(captures); m <= groups {
			return `\` + strconv.Itoa(m)
		}
		return emptyGroup
	})
}

// rewriteRefs replaces every numbered backreference in source with
// replace(N). Escaped backslashes and character classes are left untouched.
func rewriteRefs(source string, replace func(n int) string) string {
	if !strings.Contains(source, `\`) {
		return source
	}

	var b strings.Builder
	b.Grow(len(source))
	inClass := false

	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case c == '\\' && i+1 < len(source):
			next := source[i+1]
			if !inClass && next >= '1' && next <= '9' {
				j := i + 1
				for j < len(source) && source[j] >= '0' && source[j] <= '9' {
					j++
				}
				n, err := strconv.Atoi(source[i+1 : j])
				if err != nil {
					b.WriteString(source[i:j])
				} else {
					b.WriteString(replace(n))
				}
				i = j - 1
				continue
			}
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case c == '[' && !inClass:
			inClass = true
			b.WriteByte(c)
		case c == ']' && inClass:
			inClass = false
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
