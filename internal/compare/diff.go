package compare

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nbcheck/nbcheck/internal/output"
)

// unifiedDiff renders a unified diff of reference vs produced text.
func unifiedDiff(ref, test string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(ref),
		B:        difflib.SplitLines(test),
		FromFile: "reference",
		ToFile:   "produced",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		// Fall back to a raw side-by-side listing.
		return fmt.Sprintf("reference:\n%s\nproduced:\n%s\n", indent(ref), indent(test))
	}
	return text
}

// renderSequences lists both record sequences for count/kind mismatches.
func renderSequences(ref, test []output.Record) string {
	var buf strings.Builder
	buf.WriteString("<<<<<<<<<<<< reference outputs from notebook file:\n")
	writeRecords(&buf, ref)
	buf.WriteString("============ disagree with newly produced outputs:\n")
	writeRecords(&buf, test)
	buf.WriteString(">>>>>>>>>>>>\n")
	return buf.String()
}

func writeRecords(buf *strings.Builder, records []output.Record) {
	if len(records) == 0 {
		buf.WriteString("  (no outputs)\n")
		return
	}
	for i, rec := range records {
		switch rec.Kind {
		case output.KindStream:
			fmt.Fprintf(buf, "  [%d] stream %s: %q\n", i, rec.StreamName, trimBase64(rec.Text))
		case output.KindError:
			fmt.Fprintf(buf, "  [%d] error %s: %s\n", i, rec.Ename, rec.Evalue)
		default:
			fmt.Fprintf(buf, "  [%d] %s:\n", i, rec.Kind)
			for _, key := range sortedKeys(rec.Data) {
				fmt.Fprintf(buf, "      %s: %q\n", key, trimBase64(rec.Data[key]))
			}
		}
	}
}

// renderKeyValues lists the named mime entries of a data bundle.
func renderKeyValues(data map[string]string, keys []string) string {
	var buf strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&buf, "  %s: %q\n", key, trimBase64(data[key]))
	}
	return buf.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var base64Pat = regexp.MustCompile(`^(?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)

// trimBase64 shortens long base64 payloads in diagnostics, keeping a hash so
// two reports for the same payload can still be matched up.
func trimBase64(s string) string {
	if len(s) <= 64 {
		return s
	}
	flat := strings.ReplaceAll(s, "\n", "")
	if !base64Pat.MatchString(flat) {
		return s
	}
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%s...<snip base64, md5=%x...>", s[:8], sum[:8])
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
