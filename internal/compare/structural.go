package compare

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/nbcheck/nbcheck/internal/output"
	"github.com/nbcheck/nbcheck/internal/policy"
)

// compareStructural dispatches the requested structural comparisons. Each
// kind casts the first qualifying output value to its target representation
// and compares only the named facet, not full equality. A failed cast is a
// normal mismatch, never a fatal error.
func compareStructural(ref, test []output.Record, kinds []policy.Structural, opts Options) Result {
	sref := sanitizeAll(ref, opts.Rules)
	stest := sanitizeAll(test, opts.Rules)

	for _, st := range kinds {
		refFacet, err := extractFacet(sref, st)
		if err != nil {
			return mismatch(ReasonCastFailure,
				fmt.Sprintf("cannot interpret reference output as %s: %v", st.Kind, err))
		}
		testFacet, err := extractFacet(stest, st)
		if err != nil {
			return mismatch(ReasonCastFailure,
				fmt.Sprintf("cannot interpret produced output as %s: %v", st.Kind, err))
		}
		if !reflect.DeepEqual(refFacet, testFacet) {
			return mismatch(
				fmt.Sprintf("%s mismatch", st.Kind),
				renderFacetDiff(st.Kind, refFacet, testFacet),
			)
		}
	}
	return match()
}

// Facet representations per structural kind.

// shapeFacet is the dataframe-shape facet: row/column counts plus the
// order-independent column name set.
type shapeFacet struct {
	Rows    int
	Cols    int
	Columns []string // sorted
}

// extractFacet casts the first qualifying output to the kind's facet.
func extractFacet(records []output.Record, st policy.Structural) (any, error) {
	switch st.Kind {
	case policy.LineCount:
		text, ok := firstStreamText(records)
		if !ok {
			return nil, fmt.Errorf("no stream output")
		}
		return int64(countLines(text)), nil

	case policy.ListLength:
		list, err := castList(records)
		if err != nil {
			return nil, err
		}
		return int64(len(list)), nil

	case policy.ListMembership:
		list, err := castList(records)
		if err != nil {
			return nil, err
		}
		// Element sets: duplicates collapse, order is ignored. Nested
		// structures are compared element-wise by canonical rendering,
		// without recursive flattening.
		return renderedSet(list), nil

	case policy.SetMembership:
		text, ok := firstDataText(records, "text/plain")
		if !ok {
			return nil, fmt.Errorf("no text/plain output")
		}
		v, err := parsePyLiteral(strings.TrimSpace(text))
		if err != nil {
			return nil, err
		}
		set, ok := v.(pySet)
		if !ok {
			return nil, fmt.Errorf("value is %T, not a set", v)
		}
		return renderedSet([]any(set)), nil

	case policy.DictKeys:
		text, ok := firstDataText(records, "text/plain")
		if !ok {
			return nil, fmt.Errorf("no text/plain output")
		}
		v, err := parsePyLiteral(preprocessLiteral(text))
		if err != nil {
			return nil, err
		}
		dict, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("value is %T, not a dict", v)
		}
		keys := make([]string, 0, len(dict))
		for k := range dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil

	case policy.SeriesLength:
		text, ok := firstDataText(records, "text/plain")
		if !ok {
			return nil, fmt.Errorf("no text/plain output")
		}
		return int64(seriesLength(text)), nil

	case policy.DataFrameShape:
		text, ok := firstDataText(records, "text/html")
		if !ok {
			return nil, fmt.Errorf("no text/html output")
		}
		return parseTableShape(text)

	case policy.FigureType:
		text, ok := firstDataText(records, "text/plain")
		if !ok {
			return nil, fmt.Errorf("no text/plain output")
		}
		// Capability check: does the produced value expose the expected
		// type tag? The facet is the boolean, so reference and test must
		// agree on whether the tag is present.
		return strings.Contains(text, st.Param), nil

	default:
		return nil, fmt.Errorf("unknown structural kind %q", st.Kind)
	}
}

// castList parses the first text/plain output as a Python list.
func castList(records []output.Record) ([]any, error) {
	text, ok := firstDataText(records, "text/plain")
	if !ok {
		return nil, fmt.Errorf("no text/plain output")
	}
	v, err := parsePyLiteral(preprocessLiteral(text))
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("value is %T, not a list", v)
	}
	return list, nil
}

// preprocessLiteral trims whitespace. Container reprs from databases wrap
// ids in constructor calls which the literal parser collapses, so no
// further rewriting is needed here.
func preprocessLiteral(text string) string {
	return strings.TrimSpace(text)
}

// renderedSet maps elements to their canonical rendering, collapsing
// duplicates and sorting.
func renderedSet(items []any) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		r := renderPy(it)
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// countLines counts newline-delimited lines; a trailing newline does not
// open an extra empty line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(text, "\n"), "\n"))
}

// seriesLength counts the data rows of a pandas Series text repr, which is
// one "index value" line per element followed by Name/Length/dtype footer
// lines.
func seriesLength(text string) int {
	count := 0
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "Name:") || strings.HasPrefix(trimmed, "dtype:") ||
			strings.HasPrefix(trimmed, "Length:") || strings.HasPrefix(trimmed, "Freq:") {
			continue
		}
		count++
	}
	return count
}

// parseTableShape reads the first <table> of an HTML fragment (the
// dataframe's text/html repr) and extracts its shape: body row count,
// column count, and the column name set.
func parseTableShape(fragment string) (shapeFacet, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return shapeFacet{}, fmt.Errorf("parse html: %w", err)
	}
	table := findElement(doc, "table")
	if table == nil {
		return shapeFacet{}, fmt.Errorf("no table element")
	}

	var columns []string
	if thead := findElement(table, "thead"); thead != nil {
		if headerRow := findElement(thead, "tr"); headerRow != nil {
			for _, th := range findElements(headerRow, "th") {
				name := strings.TrimSpace(textContent(th))
				if name == "" {
					continue // index placeholder column
				}
				columns = append(columns, name)
			}
		}
	}

	rows := 0
	if tbody := findElement(table, "tbody"); tbody != nil {
		rows = len(findElements(tbody, "tr"))
	}

	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	return shapeFacet{Rows: rows, Cols: len(columns), Columns: sorted}, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// firstStreamText returns the first stream record's text block.
func firstStreamText(records []output.Record) (string, bool) {
	for _, r := range records {
		if r.Kind == output.KindStream {
			return r.Text, true
		}
	}
	return "", false
}

// firstDataText returns the named mime content of the first
// ExecuteResult/DisplayData record carrying it.
func firstDataText(records []output.Record, mime string) (string, bool) {
	for _, r := range records {
		if r.Kind != output.KindExecuteResult && r.Kind != output.KindDisplayData {
			continue
		}
		if text, ok := r.Data[mime]; ok {
			return text, true
		}
	}
	return "", false
}

// renderFacetDiff lists the facet difference field by field.
func renderFacetDiff(kind policy.StructuralKind, ref, test any) string {
	refShape, refIsShape := ref.(shapeFacet)
	testShape, testIsShape := test.(shapeFacet)
	if refIsShape && testIsShape {
		var buf strings.Builder
		fmt.Fprintf(&buf, "%s:\n", kind)
		writeFacetField(&buf, "rows", refShape.Rows, testShape.Rows)
		writeFacetField(&buf, "cols", refShape.Cols, testShape.Cols)
		writeFacetField(&buf, "columns", refShape.Columns, testShape.Columns)
		return buf.String()
	}
	return fmt.Sprintf("%s:\n  reference: %v\n  produced:  %v\n", kind, ref, test)
}

func writeFacetField(buf *strings.Builder, name string, ref, test any) {
	if reflect.DeepEqual(ref, test) {
		fmt.Fprintf(buf, "  %s match: %v\n", name, ref)
		return
	}
	fmt.Fprintf(buf, "  %s mismatch: reference %v, produced %v\n", name, ref, test)
}
