// Package compare is the equivalence engine: given canonical reference
// outputs and canonical test outputs plus a per-cell policy, it decides
// match/mismatch and produces a human-readable diff report.
//
// The engine is pure and stateless; it is safe to invoke reentrantly.
package compare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nbcheck/nbcheck/internal/output"
	"github.com/nbcheck/nbcheck/internal/policy"
	"github.com/nbcheck/nbcheck/internal/sanitize"
)

// Status is the comparison outcome category.
type Status int

const (
	// StatusMatch means the outputs are equivalent under the active policy.
	StatusMatch Status = iota + 1
	// StatusMismatch is a content failure: the cell ran, the outputs differ.
	StatusMismatch
	// StatusError is reserved for comparison-internal failures. Kernel
	// infrastructure failures never reach the engine; cast failures are
	// deliberately mismatches, not errors.
	StatusError
)

// Result is the verdict for one cell comparison. Created once per cell per
// run, consumed immediately by the reporting collaborator, never persisted.
type Result struct {
	Status Status
	Reason string
	Diff   string
}

// Common mismatch reasons.
const (
	ReasonContentMismatch    = "content mismatch"
	ReasonCastFailure        = "cast failure"
	ReasonUnexpectedException = "unexpected exception"
	ReasonMissingException   = "exception not raised"
	ReasonRefMissingException = "expected exception not raised"
)

// Options configure a comparison run.
type Options struct {
	// Ignore is the set of mime types and legacy output fields excluded
	// from comparison. Nil means DefaultIgnore(). Callers extend the set
	// via IgnoreSet (the skip_compare extension surface).
	Ignore map[string]bool

	// Rules are the sanitizer rules applied symmetrically to reference and
	// test text before comparison.
	Rules sanitize.Rules

	// Lax replaces the default full comparison with
	// execution-success-only checking, unless the cell carries an
	// explicit check-output-always marker.
	Lax bool
}

// DefaultIgnore returns the stock exclusion set: bookkeeping fields that are
// never content, widget views whose model ids are random, and raw image
// payloads (pixel-identical images routinely differ in encoding).
func DefaultIgnore() map[string]bool {
	return map[string]bool{
		"metadata":        true,
		"traceback":       true,
		"prompt_number":   true,
		"output_type":     true,
		"name":            true,
		"execution_count": true,
		"application/vnd.jupyter.widget-view+json": true,
		"image/png":  true,
		"image/jpeg": true,
	}
}

// IgnoreSet builds an exclusion set from the defaults plus caller-provided
// extra keys. This is the runtime extension surface for collaborators that
// need additional mime types excluded.
func IgnoreSet(extra ...string) map[string]bool {
	set := DefaultIgnore()
	for _, k := range extra {
		set[k] = true
	}
	return set
}

// RetainImages removes the raw image defaults from set so image payloads
// are decoded and compared pixel-wise instead of skipped.
func RetainImages(set map[string]bool) map[string]bool {
	delete(set, "image/png")
	delete(set, "image/jpeg")
	return set
}

func (o Options) ignore() map[string]bool {
	if o.Ignore == nil {
		return DefaultIgnore()
	}
	return o.Ignore
}

func match() Result {
	return Result{Status: StatusMatch}
}

func mismatch(reason, diff string) Result {
	return Result{Status: StatusMismatch, Reason: reason, Diff: diff}
}

// Compare decides the verdict for one cell under the given policy set.
// Rule order (first applicable wins):
//
//  1. Skip never reaches the engine; the runner suppresses execution.
//  2. Expected exception (without ignore-output): compare exception
//     identity; preceding non-error records compared under the default rule.
//  3. Ignore-output (alone or combined with expected-exception): no
//     comparison; raised exceptions are tolerated.
//  4. Variable-output: same as ignore-output, documents intent.
//  5. Structural comparisons: compare only the named facet of the first
//     qualifying output.
//  6. Default: full equality of the ordered record sequence. Timing-magic
//     cells and lax mode degrade this to execution-success-only unless the
//     cell opts back in with check-output-always.
func Compare(ref, test []output.Record, set policy.Set, opts Options) Result {
	if set.RaisesException && !set.IgnoresOutput() {
		return compareException(ref, test, set, opts)
	}
	if set.IgnoresOutput() {
		// Execution success alone suffices; a raised exception inside the
		// cell is tolerated and not inspected.
		return match()
	}

	if rec, ok := firstErrorRecord(test); ok {
		return mismatch(
			ReasonUnexpectedException,
			fmt.Sprintf("cell raised %s: %s\n%s", rec.Ename, rec.Evalue, strings.Join(rec.Traceback, "\n")),
		)
	}

	if len(set.Structural) > 0 {
		return compareStructural(ref, test, set.Structural, opts)
	}

	if set.TimingMagic && set.Check != policy.CheckAlways {
		// Only content comparison is waived for timing cells. The
		// unexpected-exception check above runs first, so a timing cell
		// that raises still fails, unlike explicit ignore-output.
		return match()
	}
	if opts.Lax && set.Check != policy.CheckAlways {
		return match()
	}
	return compareDefault(ref, test, opts)
}

// compareException enforces the expected-exception policy: exactly one error
// record must be produced and its identity (ename, evalue) must match the
// reference error. Tracebacks are never compared. Non-error records
// preceding the error are compared under the default rule.
func compareException(ref, test []output.Record, set policy.Set, opts Options) Result {
	testErrs := errorRecords(test)
	if len(testErrs) == 0 {
		return mismatch(ReasonMissingException, renderSequences(ref, test))
	}
	if len(testErrs) > 1 {
		return mismatch(
			"multiple exceptions raised",
			fmt.Sprintf("expected exactly one exception, got %d\n%s", len(testErrs), renderSequences(ref, test)),
		)
	}
	refErr, ok := firstErrorRecord(ref)
	if !ok {
		return mismatch(ReasonRefMissingException, renderSequences(ref, test))
	}
	testErr := testErrs[0]

	refName, refValue := refErr.Ename, opts.Rules.Apply(refErr.Evalue)
	testName, testValue := testErr.Ename, opts.Rules.Apply(testErr.Evalue)
	if refName != testName || refValue != testValue {
		return mismatch(
			"exception identity mismatch",
			unifiedDiff(
				fmt.Sprintf("%s: %s\n", refName, refValue),
				fmt.Sprintf("%s: %s\n", testName, testValue),
			),
		)
	}

	// Records before the raised exception (prior prints) still follow the
	// default rule.
	refPrefix := beforeFirstError(ref)
	testPrefix := beforeFirstError(test)
	if opts.Lax && set.Check != policy.CheckAlways {
		return match()
	}
	return compareDefault(refPrefix, testPrefix, opts)
}

// compareDefault is rule 6: full structural equality of the ordered record
// sequence after normalization and sanitization.
func compareDefault(ref, test []output.Record, opts Options) Result {
	sref := sanitizeAll(ref, opts.Rules)
	stest := sanitizeAll(test, opts.Rules)

	if len(sref) != len(stest) {
		return mismatch(
			fmt.Sprintf("dissimilar number of outputs (reference %d, produced %d)", len(sref), len(stest)),
			renderSequences(sref, stest),
		)
	}

	for i := range sref {
		if res := compareRecord(i, sref[i], stest[i], opts); res.Status != StatusMatch {
			return res
		}
	}
	return match()
}

// compareRecord compares one reference/test record pair.
func compareRecord(i int, ref, test output.Record, opts Options) Result {
	if ref.Kind != test.Kind {
		return mismatch(
			fmt.Sprintf("output %d: kind mismatch (reference %s, produced %s)", i, ref.Kind, test.Kind),
			renderSequences([]output.Record{ref}, []output.Record{test}),
		)
	}

	switch ref.Kind {
	case output.KindStream:
		if ref.StreamName != test.StreamName {
			return mismatch(
				fmt.Sprintf("output %d: stream name mismatch (reference %q, produced %q)", i, ref.StreamName, test.StreamName),
				renderSequences([]output.Record{ref}, []output.Record{test}),
			)
		}
		if ref.Text != test.Text {
			return mismatch(ReasonContentMismatch, unifiedDiff(ref.Text, test.Text))
		}

	case output.KindExecuteResult, output.KindDisplayData:
		return compareData(i, ref, test, opts)

	case output.KindError:
		if ref.Ename != test.Ename || ref.Evalue != test.Evalue {
			return mismatch(
				"exception identity mismatch",
				unifiedDiff(
					fmt.Sprintf("%s: %s\n", ref.Ename, ref.Evalue),
					fmt.Sprintf("%s: %s\n", test.Ename, test.Evalue),
				),
			)
		}
	}
	return match()
}

// compareData compares the mime bundles of a record pair: key sets must
// match (ignore set aside), shared keys compare byte-for-byte for text and
// through canonical decoding for image payloads.
func compareData(i int, ref, test output.Record, opts Options) Result {
	ignore := opts.ignore()
	refKeys := dataKeys(ref, ignore)
	testKeys := dataKeys(test, ignore)

	missing := diffKeys(refKeys, testKeys)
	unexpected := diffKeys(testKeys, refKeys)
	if len(missing) > 0 {
		return mismatch(
			fmt.Sprintf("output %d: missing output fields from running code: %v", i, missing),
			renderKeyValues(ref.Data, missing),
		)
	}
	if len(unexpected) > 0 {
		return mismatch(
			fmt.Sprintf("output %d: unexpected output fields from running code: %v", i, unexpected),
			renderKeyValues(test.Data, unexpected),
		)
	}

	for _, key := range refKeys {
		refVal, testVal := ref.Data[key], test.Data[key]
		if isImageMIME(key) {
			ok, desc := compareImagePayload(refVal, testVal)
			if !ok {
				return mismatch(
					fmt.Sprintf("output %d: image mismatch for %q: %s", i, key, desc),
					fmt.Sprintf("reference: %s\nproduced:  %s\n", trimBase64(refVal), trimBase64(testVal)),
				)
			}
			continue
		}
		if refVal != testVal {
			return mismatch(
				fmt.Sprintf("output %d: mismatch for %q", i, key),
				unifiedDiff(refVal, testVal),
			)
		}
	}
	return match()
}

// sanitizeAll applies the sanitizer to every record.
func sanitizeAll(records []output.Record, rules sanitize.Rules) []output.Record {
	if len(rules) == 0 {
		return records
	}
	out := make([]output.Record, len(records))
	for i, rec := range records {
		out[i] = rules.ApplyRecord(rec)
	}
	return out
}

// dataKeys returns the sorted, non-ignored mime keys of a record.
func dataKeys(rec output.Record, ignore map[string]bool) []string {
	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		if ignore[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffKeys returns the elements of a not present in b. Both inputs sorted.
func diffKeys(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, k := range b {
		set[k] = true
	}
	var out []string
	for _, k := range a {
		if !set[k] {
			out = append(out, k)
		}
	}
	return out
}

func errorRecords(records []output.Record) []output.Record {
	var errs []output.Record
	for _, r := range records {
		if r.Kind == output.KindError {
			errs = append(errs, r)
		}
	}
	return errs
}

func firstErrorRecord(records []output.Record) (output.Record, bool) {
	for _, r := range records {
		if r.Kind == output.KindError {
			return r, true
		}
	}
	return output.Record{}, false
}

func beforeFirstError(records []output.Record) []output.Record {
	for i, r := range records {
		if r.Kind == output.KindError {
			return records[:i]
		}
	}
	return records
}

func isImageMIME(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
