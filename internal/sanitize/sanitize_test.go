package sanitize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbcheck/nbcheck/internal/output"
)

func TestRulesApplyOrder(t *testing.T) {
	rules, err := Compile([][2]string{
		{`cat`, `dog`},
		{`dog`, `bird`},
	})
	require.NoError(t, err)

	// Rule one rewrites every match before rule two runs, so rule two sees
	// rule one's output.
	assert.Equal(t, "bird bird", rules.Apply("cat dog"))
}

func TestRulesApplyAllMatches(t *testing.T) {
	rules, err := Compile([][2]string{
		{`0x[0-9a-f]+`, `0xADDR`},
	})
	require.NoError(t, err)

	in := "<obj at 0xdeadbeef> and <obj at 0xcafe>"
	assert.Equal(t, "<obj at 0xADDR> and <obj at 0xADDR>", rules.Apply(in))
}

func TestSanitizeIdempotent(t *testing.T) {
	// A second pass over already-sanitized text is a no-op, including when
	// a replacement is re-matched by its own pattern but maps to itself.
	rules, err := Compile([][2]string{
		{`0x[0-9a-f]+`, `0xADDR`},
		{`\d+\.\d+ ms`, `0.0 ms`},
	})
	require.NoError(t, err)

	inputs := []string{
		"<obj at 0xdeadbeef> took 4.51 ms",
		"already clean text",
		"0xADDR and 0.0 ms",
	}
	for _, in := range inputs {
		once := rules.Apply(in)
		assert.Equal(t, once, rules.Apply(once), "input %q", in)
	}

	rec := output.Record{Kind: output.KindStream, StreamName: "stdout",
		Text: "addr 0xcafe in 12.5 ms\n"}
	once := rules.ApplyRecord(rec)
	assert.Equal(t, once, rules.ApplyRecord(once))
}

func TestEmptyRulesNoOp(t *testing.T) {
	var rules Rules
	assert.Equal(t, "unchanged", rules.Apply("unchanged"))

	rec := output.Record{Kind: output.KindStream, Text: "unchanged"}
	assert.Equal(t, rec, rules.ApplyRecord(rec))
}

func TestApplyRecord(t *testing.T) {
	rules, err := Compile([][2]string{{`[0-9]+`, `N`}})
	require.NoError(t, err)

	t.Run("stream text", func(t *testing.T) {
		rec := output.Record{Kind: output.KindStream, StreamName: "stdout", Text: "took 42ms\n"}
		out := rules.ApplyRecord(rec)
		assert.Equal(t, "took Nms\n", out.Text)
		assert.Equal(t, "took 42ms\n", rec.Text, "input record must not be modified")
	})

	t.Run("data values", func(t *testing.T) {
		rec := output.Record{
			Kind: output.KindExecuteResult,
			Data: map[string]string{
				"text/plain": "value 7",
				"text/latex": `$x^{12}$`,
			},
		}
		out := rules.ApplyRecord(rec)
		assert.Equal(t, "value N", out.Data["text/plain"])
		assert.Equal(t, `$x^{12}$`, out.Data["text/latex"], "latex content is never rewritten")
		assert.Equal(t, "value 7", rec.Data["text/plain"], "input map must not be aliased")
	})

	t.Run("error value only", func(t *testing.T) {
		rec := output.Record{
			Kind:      output.KindError,
			Ename:     "Error404",
			Evalue:    "failed after 3 retries",
			Traceback: []string{"frame 1"},
		}
		out := rules.ApplyRecord(rec)
		assert.Equal(t, "Error404", out.Ename, "error names are identifiers, not rewritten")
		assert.Equal(t, "failed after N retries", out.Evalue)
		assert.Equal(t, []string{"frame 1"}, out.Traceback)
	})
}

func TestParsePatterns(t *testing.T) {
	cfg := `[regex1]
regex: \d{1,2}/\d{1,2}/\d{2,4}
replace: DATE-STAMP

[regex2]
regex: \d{2}:\d{2}:\d{2}
replace: TIME-STAMP

stray line without a pair
regex: orphan without replace
`
	pairs := ParsePatterns(cfg)
	require.Len(t, pairs, 2, "only regex/replace line pairs count")
	assert.Equal(t, `\d{1,2}/\d{1,2}/\d{2,4}`, pairs[0][0])
	assert.Equal(t, "DATE-STAMP", pairs[0][1])
	assert.Equal(t, "TIME-STAMP", pairs[1][1])
}

func TestCompileRejectsBadPattern(t *testing.T) {
	_, err := Compile([][2]string{{`[unclosed`, `X`}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sanitize pattern")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sanitize.cfg")
	require.NoError(t, os.WriteFile(path, []byte("regex: foo\nreplace: bar\n"), 0o644))

	rules, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "a bar b", rules.Apply("a foo b"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

func TestCorePatterns(t *testing.T) {
	rules := CorePatterns()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "graphviz source repr",
			in:   "<graphviz.files.Source at 0x7f3e2c1d90a0>",
			want: "<graphviz.files.Source>",
		},
		{
			name: "timeit report",
			in:   "4.51 ms ± 85.3 µs per loop (mean ± std. dev. of 7 runs, 100 loops each)",
			want: "TIMING-REPORT",
		},
		{
			name: "memit report",
			in:   "peak memory: 94.45 MiB, increment: 0.61 MiB",
			want: "MEMORY-REPORT",
		},
		{
			name: "pandas groupby repr",
			in:   "<pandas.core.groupby.generic.DataFrameGroupBy object at 0x7f0a1b2c3d4e>",
			want: "PANDAS_GROUP_BY",
		},
		{
			name: "pymongo cursor repr",
			in:   "<pymongo.cursor.Cursor at 0x10fabc>",
			want: "MONGO_CURSOR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Apply(tt.in))
		})
	}
}

func TestTimeitPatterns(t *testing.T) {
	rules := TimeitPatterns()

	in := "CPU times: user 2.3 ms, sys: 0 ns, total: 2.3 ms\nWall time: 2.31 ms\n"
	want := "CPU times: CPUTIME\nWall time: WALLTIME\n"
	assert.Equal(t, want, rules.Apply(in))
}
