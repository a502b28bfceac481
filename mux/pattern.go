package mux

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Params holds the values captured from the request path, keyed by
// capture name. Unnamed captures use their zero-based position.
type Params map[string]string

// Matcher tests a path and returns the captures on success.
type Matcher interface {
	Match(path string) (Params, bool)
}

type alwaysMatcher struct{}

func (alwaysMatcher) Match(string) (Params, bool) { return nil, true }

func (alwaysMatcher) String() string { return "" }

// Always matches every path and captures nothing. Routes registered with
// it are patternless.
var Always Matcher = alwaysMatcher{}

// Pattern is a compiled route pattern.
type Pattern struct {
	source string
	re     *regexp.Regexp
	names  []string
}

// Compile turns a route pattern into a Matcher.
//
// The pattern is literal text except for:
//
//	:name   one path segment, captured as name
//	[...]   optional group
//	*       lazy wildcard
//	.+      passed through as "one or more of anything"
//	%c      c is copied into the expression unescaped
//
// Other regular expression syntax passes through untouched. The result is
// anchored at both ends. An empty pattern compiles to Always.
func Compile(pattern string) (Matcher, error) {
	if pattern == "" {
		return Always, nil
	}

	expr, names := translatePattern(pattern)

	re, err := compileRegexp(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
	}

	return &Pattern{source: pattern, re: re, names: names}, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string) Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Regexp adapts a raw regular expression into a Matcher. Named
// subexpressions become param names; unnamed ones are keyed by position.
func Regexp(re *regexp.Regexp) *Pattern {
	names := make([]string, 0, re.NumSubexp())
	for i, n := range re.SubexpNames()[1:] {
		if n == "" {
			n = strconv.Itoa(i)
		}
		names = append(names, n)
	}
	return &Pattern{source: re.String(), re: re, names: names}
}

// Match implements Matcher. Optional groups that did not take part in
// the match are left out of the params.
func (p *Pattern) Match(path string) (Params, bool) {
	loc := p.re.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil, false
	}
	if len(loc) == 2 {
		return nil, true
	}

	params := make(Params, len(loc)/2-1)
	for i := 1; i < len(loc)/2; i++ {
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		key := strconv.Itoa(i - 1)
		if i-1 < len(p.names) && p.names[i-1] != "" {
			key = p.names[i-1]
		}
		v := path[start:end]
		if dec, err := url.PathUnescape(v); err == nil {
			v = dec
		}
		params[key] = v
	}
	return params, true
}

// Names returns the capture names in pattern order.
func (p *Pattern) Names() []string {
	return append([]string(nil), p.names...)
}

// Expr returns the compiled regular expression text.
func (p *Pattern) Expr() string {
	return p.re.String()
}

func (p *Pattern) String() string {
	return p.source
}

// translatePattern rewrites a route pattern into an anchored expression
// and collects the capture names in order.
func translatePattern(pattern string) (string, []string) {
	var (
		b     strings.Builder
		names []string
	)

	b.Grow(len(pattern) + 16)
	b.WriteByte('^')

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '[':
			b.WriteString("(?:")
		case ']':
			b.WriteString(")?")
		case '.':
			if i+1 < len(pattern) && pattern[i+1] == '+' {
				b.WriteByte('.')
			} else {
				b.WriteString(`\.`)
			}
		case '*':
			b.WriteString(".*?")
		case '%':
			b.WriteByte('\\')
			if i+1 < len(pattern) {
				i++
				b.WriteByte(pattern[i])
			}
		case ':':
			j := i + 1
			for j < len(pattern) && isWordByte(pattern[j]) {
				j++
			}
			if j == i+1 {
				b.WriteByte(':')
				continue
			}
			names = append(names, pattern[i+1:j])
			b.WriteString("([^/]+)")
			i = j - 1
		case '\\':
			b.WriteByte(ch)
			if i+1 < len(pattern) {
				i++
				b.WriteByte(pattern[i])
			}
		case '(':
			// Raw groups keep the capture list aligned with the
			// expression; unnamed ones are keyed by position.
			if i+1 >= len(pattern) || pattern[i+1] != '?' {
				names = append(names, strconv.Itoa(len(names)))
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}

	b.WriteByte('$')

	return b.String(), names
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

// prefixMatcher matches a path equal to prefix or continuing below it
// with a slash.
type prefixMatcher struct {
	prefix string
}

func (m prefixMatcher) Match(path string) (Params, bool) {
	if m.prefix == "/" {
		return nil, true
	}
	if !strings.HasPrefix(path, m.prefix) {
		return nil, false
	}
	rest := path[len(m.prefix):]
	return nil, rest == "" || rest[0] == '/'
}

func (m prefixMatcher) String() string {
	return m.prefix + "*"
}

// regexpCache caches compiled expressions by their text. The number of
// unique expressions is bounded by the registered routes.
var regexpCache sync.Map

func compileRegexp(expr string) (*regexp.Regexp, error) {
	if v, ok := regexpCache.Load(expr); ok {
		return v.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}

	actual, _ := regexpCache.LoadOrStore(expr, re)

	return actual.(*regexp.Regexp), nil
}
