package policy

import (
	"regexp"
	"strings"
	"sync"
)

// globCache holds compiled patterns; policies are re-read per evaluation
// but their patterns rarely change. A nil entry marks a pattern that does
// not compile.
var globCache sync.Map // map[string]*regexp.Regexp

// matchGlob reports whether name matches pattern with fnmatch semantics:
// "*" matches any run of characters, "/" included, "?" matches one
// character, and "[...]" is a class that "[!...]" negates. An unclosed
// "[" is a literal. Patterns that do not compile match nothing.
func matchGlob(pattern, name string) bool {
	re := compileGlob(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(name)
}

func compileGlob(pattern string) *regexp.Regexp {
	if v, ok := globCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(translateGlob(pattern))
	if err != nil {
		re = nil
	}
	globCache.Store(pattern, re)
	return re
}

// translateGlob turns a glob into an anchored regular expression.
func translateGlob(pattern string) string {
	var b strings.Builder
	b.WriteString(`^(?s:`)

	runes := []rune(pattern)
	n := len(runes)
	for i := 0; i < n; i++ {
		c := runes[i]
		switch c {
		case '*':
			// Collapse runs so "**" does not cost extra backtracking.
			for i+1 < n && runes[i+1] == '*' {
				i++
			}
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < n && runes[j] == '!' {
				j++
			}
			if j < n && runes[j] == ']' {
				j++
			}
			for j < n && runes[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString(globClass(runes[i+1 : j]))
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`)$`)
	return b.String()
}

// globClass renders the body of a bracket expression. Every member is
// quoted except range dashes, so nothing inside is read as regexp syntax.
func globClass(body []rune) string {
	var b strings.Builder
	b.WriteByte('[')
	if len(body) > 0 && body[0] == '!' {
		b.WriteByte('^')
		body = body[1:]
	}
	for k, c := range body {
		if c == '-' && k > 0 && k < len(body)-1 {
			b.WriteByte('-')
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(c)))
	}
	b.WriteByte(']')
	return b.String()
}
