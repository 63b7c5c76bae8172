// Package sanitize rewrites volatile fragments of textual output (memory
// addresses, timings, object ids) before comparison. Rules are ordered and
// applied symmetrically to the stored reference output and the freshly
// produced output.
package sanitize

import (
	"fmt"
	"os"
	"regexp"

	"github.com/nbcheck/nbcheck/internal/output"
)

// Rule is one regex replacement. Patterns are unanchored; every
// non-overlapping match is replaced before the next rule runs.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Rules is an ordered rule list. The zero value is a no-op.
type Rules []Rule

// Apply runs every rule against text, left to right. Each rule replaces all
// of its matches before the next rule is considered.
func (rs Rules) Apply(text string) string {
	for _, r := range rs {
		text = r.Pattern.ReplaceAllString(text, r.Replace)
	}
	return text
}

// skipSanitize lists mime types whose content is never rewritten. LaTeX
// bodies routinely contain regex metacharacter soup that user patterns were
// not written against.
var skipSanitize = map[string]bool{
	"text/latex": true,
}

// ApplyRecord returns a copy of rec with every textual field sanitized:
// stream text, textual mime parts, and the error value. Error names and
// tracebacks are left alone (names are identifiers, tracebacks are never
// compared).
func (rs Rules) ApplyRecord(rec output.Record) output.Record {
	if len(rs) == 0 {
		return rec
	}
	out := rec.Clone()
	switch out.Kind {
	case output.KindStream:
		out.Text = rs.Apply(out.Text)
	case output.KindExecuteResult, output.KindDisplayData:
		for mime, val := range out.Data {
			if skipSanitize[mime] {
				continue
			}
			out.Data[mime] = rs.Apply(val)
		}
	case output.KindError:
		out.Evalue = rs.Apply(out.Evalue)
	}
	return out
}

// patternPair matches one "regex:"/"replace:" line pair in a sanitize
// configuration. Section headers like "[regex1]" carry no semantics and fall
// through unmatched.
var patternPair = regexp.MustCompile(`(?m)^regex: (.*)$\n^replace: (.*)$`)

// ParsePatterns extracts (pattern, replacement) pairs from sanitize
// configuration text, in file order.
func ParsePatterns(text string) [][2]string {
	var pairs [][2]string
	for _, m := range patternPair.FindAllStringSubmatch(text, -1) {
		pairs = append(pairs, [2]string{m[1], m[2]})
	}
	return pairs
}

// Compile builds rules from (pattern, replacement) pairs, preserving order.
func Compile(pairs [][2]string) (Rules, error) {
	rules := make(Rules, 0, len(pairs))
	for _, p := range pairs {
		re, err := regexp.Compile(p[0])
		if err != nil {
			return nil, fmt.Errorf("sanitize pattern %q: %w", p[0], err)
		}
		rules = append(rules, Rule{Pattern: re, Replace: p[1]})
	}
	return rules, nil
}

// LoadFile reads and compiles a sanitize configuration file.
func LoadFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanitize file: %w", err)
	}
	rules, err := Compile(ParsePatterns(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}
