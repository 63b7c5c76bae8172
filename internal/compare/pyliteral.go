package compare

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The structural comparisons work on the text/plain repr the kernel emitted,
// which for containers is a Python literal. parsePyLiteral interprets that
// repr as a Go value:
//
//	string        -> string
//	int           -> int64
//	float         -> float64
//	True/False    -> bool
//	None          -> nil
//	list/tuple    -> []any
//	set           -> pySet
//	dict          -> map[string]any (keys in canonical rendered form)
//
// Constructor-style reprs like ObjectId('...') collapse to the canonical
// string of their argument list, which is what membership and key
// comparisons need from them.
//
// This is a literal reader, not a Python parser; anything it cannot read is
// a cast failure, which the engine reports as a normal mismatch.

// pySet distinguishes set literals from lists.
type pySet []any

type pyParser struct {
	s string
	i int
}

func parsePyLiteral(s string) (any, error) {
	p := &pyParser{s: s}
	p.skipSpace()
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.i != len(p.s) {
		return nil, fmt.Errorf("trailing content at offset %d", p.i)
	}
	return v, nil
}

func (p *pyParser) skipSpace() {
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *pyParser) peek() (byte, bool) {
	if p.i >= len(p.s) {
		return 0, false
	}
	return p.s[p.i], true
}

func (p *pyParser) parseValue() (any, error) {
	c, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch {
	case c == '[':
		return p.parseSeq('[', ']')
	case c == '(':
		return p.parseSeq('(', ')')
	case c == '{':
		return p.parseBraced()
	case c == '\'' || c == '"':
		return p.parseString(c)
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseNameOrCall()
	}
}

// parseSeq reads a list or tuple.
func (p *pyParser) parseSeq(open, close byte) (any, error) {
	p.i++ // consume open
	var items []any
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated %q", string(open))
		}
		if c == close {
			p.i++
			return items, nil
		}
		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		p.skipSpace()
		c, ok = p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated %q", string(open))
		}
		switch c {
		case ',':
			p.i++
		case close:
			// closing handled on next iteration
		default:
			return nil, fmt.Errorf("expected ',' or %q at offset %d", string(close), p.i)
		}
	}
}

// parseBraced reads a dict or a set. An empty {} is a dict.
func (p *pyParser) parseBraced() (any, error) {
	p.i++ // consume '{'
	p.skipSpace()
	if c, ok := p.peek(); ok && c == '}' {
		p.i++
		return map[string]any{}, nil
	}

	first, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unterminated '{'")
	}

	if c == ':' {
		return p.parseDictRest(first)
	}
	return p.parseSetRest(first)
}

func (p *pyParser) parseDictRest(firstKey any) (any, error) {
	dict := map[string]any{}
	key := firstKey
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok || c != ':' {
			return nil, fmt.Errorf("expected ':' at offset %d", p.i)
		}
		p.i++
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		dict[renderPy(key)] = val

		p.skipSpace()
		c, ok = p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated dict")
		}
		switch c {
		case '}':
			p.i++
			return dict, nil
		case ',':
			p.i++
			p.skipSpace()
			if c, ok := p.peek(); ok && c == '}' {
				p.i++
				return dict, nil
			}
			key, err = p.parseValue()
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.i)
		}
	}
}

func (p *pyParser) parseSetRest(first any) (any, error) {
	set := pySet{first}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated set")
		}
		switch c {
		case '}':
			p.i++
			return set, nil
		case ',':
			p.i++
			p.skipSpace()
			if c, ok := p.peek(); ok && c == '}' {
				p.i++
				return set, nil
			}
			item, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			set = append(set, item)
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.i)
		}
	}
}

func (p *pyParser) parseString(quote byte) (any, error) {
	p.i++ // consume quote
	var buf strings.Builder
	for p.i < len(p.s) {
		c := p.s[p.i]
		switch c {
		case quote:
			p.i++
			return buf.String(), nil
		case '\\':
			p.i++
			if p.i >= len(p.s) {
				return nil, fmt.Errorf("unterminated escape")
			}
			switch e := p.s[p.i]; e {
			case 'n':
				buf.WriteByte('\n')
			case 't':
				buf.WriteByte('\t')
			case 'r':
				buf.WriteByte('\r')
			case '\\', '\'', '"':
				buf.WriteByte(e)
			case 'x':
				if p.i+2 >= len(p.s) {
					return nil, fmt.Errorf("truncated \\x escape")
				}
				n, err := strconv.ParseUint(p.s[p.i+1:p.i+3], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("bad \\x escape: %w", err)
				}
				buf.WriteByte(byte(n))
				p.i += 2
			default:
				// Unknown escape: keep verbatim, matching repr behavior.
				buf.WriteByte('\\')
				buf.WriteByte(e)
			}
			p.i++
		default:
			buf.WriteByte(c)
			p.i++
		}
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *pyParser) parseNumber() (any, error) {
	start := p.i
	if c, _ := p.peek(); c == '-' || c == '+' {
		p.i++
	}
	isFloat := false
	for p.i < len(p.s) {
		c := p.s[p.i]
		switch {
		case c >= '0' && c <= '9' || c == '_':
			p.i++
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
			p.i++
			if c != '.' && p.i < len(p.s) && (p.s[p.i] == '-' || p.s[p.i] == '+') {
				p.i++
			}
		default:
			goto done
		}
	}
done:
	text := strings.ReplaceAll(p.s[start:p.i], "_", "")
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q: %w", text, err)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad int %q: %w", text, err)
	}
	return n, nil
}

// parseNameOrCall reads identifiers (True, False, None) and
// constructor-style reprs like ObjectId('...') or Decimal('1.5').
func (p *pyParser) parseNameOrCall() (any, error) {
	start := p.i
	for p.i < len(p.s) {
		c := p.s[p.i]
		if c == '_' || c == '.' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			p.i++
			continue
		}
		break
	}
	name := p.s[start:p.i]
	if name == "" {
		return nil, fmt.Errorf("unexpected character %q at offset %d", p.s[p.i], p.i)
	}
	switch name {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}

	p.skipSpace()
	if c, ok := p.peek(); !ok || c != '(' {
		return nil, fmt.Errorf("unrecognized identifier %q at offset %d", name, start)
	}
	args, err := p.parseSeq('(', ')')
	if err != nil {
		return nil, err
	}
	// A single-argument constructor collapses to its argument's canonical
	// form (ObjectId('abc') compares as 'abc'); otherwise keep the full
	// call rendering so equal reprs still compare equal.
	items := args.([]any)
	if len(items) == 1 {
		return renderPyBare(items[0]), nil
	}
	rendered := make([]string, len(items))
	for i, it := range items {
		rendered[i] = renderPy(it)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(rendered, ", ")), nil
}

// renderPy renders a parsed value back to a canonical literal form. Strings
// are quoted; containers are sorted where order is not significant.
func renderPy(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", `\'`) + "'"
	default:
		return renderPyBare(v)
	}
}

// renderPyBare is renderPy without outer string quoting.
func renderPyBare(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = renderPy(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case pySet:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = renderPy(item)
		}
		sort.Strings(parts)
		return "{" + strings.Join(parts, ", ") + "}"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderPy(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}
