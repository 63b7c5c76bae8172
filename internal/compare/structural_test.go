package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbcheck/nbcheck/internal/output"
	"github.com/nbcheck/nbcheck/internal/policy"
)

func structuralSet(kind policy.StructuralKind, param string) policy.Set {
	return policy.Set{Structural: []policy.Structural{{Kind: kind, Param: param}}}
}

func htmlResult(fragment string) output.Record {
	return output.Record{Kind: output.KindExecuteResult, Data: map[string]string{"text/html": fragment}}
}

func TestLineCount(t *testing.T) {
	set := structuralSet(policy.LineCount, "")

	t.Run("equal counts with different content match", func(t *testing.T) {
		res := Compare(
			[]output.Record{stream("a\nb\nc\n")},
			[]output.Record{stream("x\ny\nz\n")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("three vs two lines mismatch", func(t *testing.T) {
		res := Compare(
			[]output.Record{stream("a\nb\nc\n")},
			[]output.Record{stream("a\nb\n")},
			set, Options{})
		require.Equal(t, StatusMismatch, res.Status)
		assert.Contains(t, res.Reason, "line-count mismatch")
		assert.Contains(t, res.Diff, "3")
		assert.Contains(t, res.Diff, "2")
	})

	t.Run("trailing newline opens no extra line", func(t *testing.T) {
		res := Compare(
			[]output.Record{stream("a\nb")},
			[]output.Record{stream("a\nb\n")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("no stream output is a cast failure", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("not a stream")},
			[]output.Record{stream("a\n")},
			set, Options{})
		require.Equal(t, StatusMismatch, res.Status)
		assert.Equal(t, ReasonCastFailure, res.Reason)
		assert.Contains(t, res.Diff, "reference")
	})
}

func TestListLength(t *testing.T) {
	set := structuralSet(policy.ListLength, "")

	res := Compare(
		[]output.Record{result("[1, 2, 3]")},
		[]output.Record{result("['a', 'b', 'c']")},
		set, Options{})
	assert.Equal(t, StatusMatch, res.Status, "only length is compared")

	res = Compare(
		[]output.Record{result("[1, 2, 3]")},
		[]output.Record{result("[1, 2]")},
		set, Options{})
	assert.Equal(t, StatusMismatch, res.Status)

	res = Compare(
		[]output.Record{result("[1, 2]")},
		[]output.Record{result("not a list")},
		set, Options{})
	require.Equal(t, StatusMismatch, res.Status)
	assert.Equal(t, ReasonCastFailure, res.Reason)
	assert.Contains(t, res.Diff, "produced")
}

func TestListMembership(t *testing.T) {
	set := structuralSet(policy.ListMembership, "")

	t.Run("order is ignored", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("[3, 1, 2]")},
			[]output.Record{result("[1, 2, 3]")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("[1, 1, 2]")},
			[]output.Record{result("[2, 1]")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("different membership fails", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("[1, 2]")},
			[]output.Record{result("[1, 4]")},
			set, Options{})
		assert.Equal(t, StatusMismatch, res.Status)
	})

	t.Run("constructor reprs collapse to their argument", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("[ObjectId('64ae01'), ObjectId('64ae02')]")},
			[]output.Record{result("['64ae02', '64ae01']")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("nested lists compare element-wise", func(t *testing.T) {
		// Inner lists are elements; their internal order still matters.
		res := Compare(
			[]output.Record{result("[[1, 2], [3, 4]]")},
			[]output.Record{result("[[3, 4], [1, 2]]")},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)

		res = Compare(
			[]output.Record{result("[[1, 2]]")},
			[]output.Record{result("[[2, 1]]")},
			set, Options{})
		assert.Equal(t, StatusMismatch, res.Status)
	})
}

func TestSetMembership(t *testing.T) {
	set := structuralSet(policy.SetMembership, "")

	res := Compare(
		[]output.Record{result("{'b', 'a', 'c'}")},
		[]output.Record{result("{'a', 'c', 'b'}")},
		set, Options{})
	assert.Equal(t, StatusMatch, res.Status)

	res = Compare(
		[]output.Record{result("{'a'}")},
		[]output.Record{result("{'a', 'b'}")},
		set, Options{})
	assert.Equal(t, StatusMismatch, res.Status)

	res = Compare(
		[]output.Record{result("{'a'}")},
		[]output.Record{result("['a']")},
		set, Options{})
	require.Equal(t, StatusMismatch, res.Status)
	assert.Equal(t, ReasonCastFailure, res.Reason)
}

func TestDictKeys(t *testing.T) {
	set := structuralSet(policy.DictKeys, "")

	res := Compare(
		[]output.Record{result("{'a': 1, 'b': 2}")},
		[]output.Record{result("{'b': 99, 'a': 'different'}")},
		set, Options{})
	assert.Equal(t, StatusMatch, res.Status, "values are not compared")

	res = Compare(
		[]output.Record{result("{'a': 1}")},
		[]output.Record{result("{'a': 1, 'c': 2}")},
		set, Options{})
	assert.Equal(t, StatusMismatch, res.Status)
}

func TestSeriesLength(t *testing.T) {
	set := structuralSet(policy.SeriesLength, "")

	refRepr := "0    1.0\n1    2.5\n2    9.9\nName: price, dtype: float64"
	testRepr := "0    4.0\n1    0.5\n2    7.7\nName: price, dtype: float64"
	res := Compare([]output.Record{result(refRepr)}, []output.Record{result(testRepr)}, set, Options{})
	assert.Equal(t, StatusMatch, res.Status)

	shorter := "0    4.0\n1    0.5\nName: price, dtype: float64"
	res = Compare([]output.Record{result(refRepr)}, []output.Record{result(shorter)}, set, Options{})
	assert.Equal(t, StatusMismatch, res.Status)
}

func TestDataFrameShape(t *testing.T) {
	set := structuralSet(policy.DataFrameShape, "")

	table := func(rows string) string {
		return `<table>
  <thead><tr><th></th><th>name</th><th>price</th></tr></thead>
  <tbody>` + rows + `</tbody>
</table>`
	}
	twoRows := "<tr><th>0</th><td>a</td><td>1</td></tr><tr><th>1</th><td>b</td><td>2</td></tr>"
	otherTwoRows := "<tr><th>0</th><td>x</td><td>9</td></tr><tr><th>1</th><td>y</td><td>8</td></tr>"

	t.Run("same shape with different cells matches", func(t *testing.T) {
		res := Compare(
			[]output.Record{htmlResult(table(twoRows))},
			[]output.Record{htmlResult(table(otherTwoRows))},
			set, Options{})
		assert.Equal(t, StatusMatch, res.Status)
	})

	t.Run("row count mismatch", func(t *testing.T) {
		oneRow := "<tr><th>0</th><td>a</td><td>1</td></tr>"
		res := Compare(
			[]output.Record{htmlResult(table(twoRows))},
			[]output.Record{htmlResult(table(oneRow))},
			set, Options{})
		require.Equal(t, StatusMismatch, res.Status)
		assert.Contains(t, res.Diff, "rows mismatch")
	})

	t.Run("column name mismatch", func(t *testing.T) {
		renamed := `<table>
  <thead><tr><th></th><th>name</th><th>cost</th></tr></thead>
  <tbody>` + twoRows + `</tbody>
</table>`
		res := Compare(
			[]output.Record{htmlResult(table(twoRows))},
			[]output.Record{htmlResult(renamed)},
			set, Options{})
		require.Equal(t, StatusMismatch, res.Status)
		assert.Contains(t, res.Diff, "columns mismatch")
	})

	t.Run("missing html output is a cast failure", func(t *testing.T) {
		res := Compare(
			[]output.Record{result("plain repr only")},
			[]output.Record{htmlResult(table(twoRows))},
			set, Options{})
		require.Equal(t, StatusMismatch, res.Status)
		assert.Equal(t, ReasonCastFailure, res.Reason)
	})
}

func TestFigureType(t *testing.T) {
	set := structuralSet(policy.FigureType, "<Figure size")

	res := Compare(
		[]output.Record{result("<Figure size 640x480 with 1 Axes>")},
		[]output.Record{result("<Figure size 1280x960 with 4 Axes>")},
		set, Options{})
	assert.Equal(t, StatusMatch, res.Status, "only the type tag matters")

	res = Compare(
		[]output.Record{result("<Figure size 640x480 with 1 Axes>")},
		[]output.Record{result("None")},
		set, Options{})
	assert.Equal(t, StatusMismatch, res.Status)
}

func TestStructuralSanitizesBeforeCast(t *testing.T) {
	rules := mustRules(t, [][2]string{{`<graphviz\.files\.Source at [^>]*>`, `'GRAPHVIZ'`}})
	set := structuralSet(policy.ListMembership, "")

	res := Compare(
		[]output.Record{result("['GRAPHVIZ']")},
		[]output.Record{result("[<graphviz.files.Source at 0x7f3e>]")},
		set, Options{Rules: rules})
	assert.Equal(t, StatusMatch, res.Status)
}

func TestMultipleStructuralFacets(t *testing.T) {
	set := policy.Set{Structural: []policy.Structural{
		{Kind: policy.ListLength},
		{Kind: policy.ListMembership},
	}}

	res := Compare(
		[]output.Record{result("[1, 2, 3]")},
		[]output.Record{result("[3, 2, 1]")},
		set, Options{})
	assert.Equal(t, StatusMatch, res.Status)

	// Same length, different members: the second facet catches it.
	res = Compare(
		[]output.Record{result("[1, 2, 3]")},
		[]output.Record{result("[1, 2, 9]")},
		set, Options{})
	require.Equal(t, StatusMismatch, res.Status)
	assert.Contains(t, res.Reason, "list-membership")
}
