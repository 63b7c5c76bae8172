// Package policy derives the validation behavior for each code cell from its
// two marker surfaces: case-sensitive line comments in the cell source, and
// lowercase dash-separated metadata tags. Both surfaces resolve into the same
// Set before any comparison logic runs, so the equivalence engine never sees
// which surface form was used.
package policy

import (
	"fmt"
	"strings"

	"github.com/nbcheck/nbcheck/internal/notebook"
)

// CheckMode controls whether cell output is compared.
type CheckMode int

const (
	// CheckDefault defers to the run mode (full comparison, or
	// execution-success-only under lax mode).
	CheckDefault CheckMode = iota
	// CheckAlways forces full output comparison even under lax mode.
	CheckAlways
	// CheckNever suppresses output comparison entirely.
	CheckNever
)

// StructuralKind names one structural comparison facet.
type StructuralKind string

const (
	LineCount      StructuralKind = "line-count"
	DataFrameShape StructuralKind = "dataframe-shape"
	ListLength     StructuralKind = "list-length"
	SeriesLength   StructuralKind = "series-length"
	ListMembership StructuralKind = "list-membership"
	SetMembership  StructuralKind = "set-membership"
	DictKeys       StructuralKind = "dict-keys"
	FigureType     StructuralKind = "figure-type-check"
)

// Structural is one requested structural comparison. Param carries
// kind-specific configuration (for FigureType, the expected repr tag).
type Structural struct {
	Kind  StructuralKind
	Param string
}

// Set is the resolved policy for one cell.
type Set struct {
	// Skip suppresses execution entirely. No verdict is produced.
	Skip bool

	// Check controls output comparison.
	Check CheckMode

	// RaisesException expects the cell to raise and compares the raised
	// exception's identity (ename, evalue) against the reference.
	RaisesException bool

	// VariableOutput documents legitimately non-deterministic output.
	// Comparison-wise it is equivalent to Check == CheckNever.
	VariableOutput bool

	// Structural lists requested structural comparisons in marker order.
	Structural []Structural

	// TimingMagic marks cells whose first line is a timing or memory
	// profiling magic. Such cells default to no output comparison unless
	// Check == CheckAlways.
	TimingMagic bool
}

// IgnoresOutput reports whether output comparison is suppressed for the cell.
func (s Set) IgnoresOutput() bool {
	return s.Check == CheckNever
}

// Options are run-level switches that feed policy resolution.
type Options struct {
	// SkipTimeit skips cells starting with %%time / %%timeit and drops
	// trailing %time lines from execution.
	SkipTimeit bool

	// SkipMemit does the same for %%memit / %memit.
	SkipMemit bool
}

// markerEffect describes what one recognized marker does to the Set.
type markerEffect struct {
	group string // conflict group: "check", "check_exception", "skip", or a structural kind
	apply func(*Set)
}

// commentMarkers are recognized case-sensitively in line comments of the
// cell source. Tags use the lowercase dash-separated forms.
var commentMarkers = map[string]markerEffect{
	"NBVAL_SKIP": {"skip", func(s *Set) { s.Skip = true }},

	"NBVAL_IGNORE_OUTPUT":           {"check", func(s *Set) { s.Check = CheckNever }},
	"PYTEST_VALIDATE_IGNORE_OUTPUT": {"check", func(s *Set) { s.Check = CheckNever }}, // backwards compatibility
	"NBVAL_CHECK_OUTPUT":            {"check", func(s *Set) { s.Check = CheckAlways }},
	"NBVAL_VARIABLE_OUTPUT": {"check", func(s *Set) {
		s.Check = CheckNever
		s.VariableOutput = true
	}},

	"NBVAL_RAISES_EXCEPTION": {"check_exception", func(s *Set) { s.RaisesException = true }},

	"NBVAL_TEST_LINECOUNT":  {string(LineCount), structural(LineCount, "")},
	"NBVAL_TEST_DF":         {string(DataFrameShape), structural(DataFrameShape, "")},
	"NBVAL_TEST_LISTLEN":    {string(ListLength), structural(ListLength, "")},
	"NBVAL_TEST_SERIESLEN":  {string(SeriesLength), structural(SeriesLength, "")},
	"NBVAL_LIST_MEMBERSHIP": {string(ListMembership), structural(ListMembership, "")},
	"NBVAL_SET_MEMBERSHIP":  {string(SetMembership), structural(SetMembership, "")},
	"NBVAL_TEST_DICTKEYS":   {string(DictKeys), structural(DictKeys, "")},
	"FOLIUM_MAP":            {string(FigureType), structural(FigureType, "<folium.folium.Map")},
	"NBVAL_FIGURE":          {string(FigureType), structural(FigureType, "<Figure size")},
}

// metadataTags maps tag forms to the same effects as the comment markers.
var metadataTags = buildMetadataTags()

func buildMetadataTags() map[string]markerEffect {
	tags := make(map[string]markerEffect, len(commentMarkers)+1)
	for marker, eff := range commentMarkers {
		tag := strings.ReplaceAll(strings.ToLower(marker), "_", "-")
		tags[tag] = eff
	}
	// The stock notebook tag for expected exceptions is also honored.
	tags["raises-exception"] = commentMarkers["NBVAL_RAISES_EXCEPTION"]
	return tags
}

func structural(kind StructuralKind, param string) func(*Set) {
	return func(s *Set) {
		for i, st := range s.Structural {
			if st.Kind == kind {
				// Latest marker of a kind wins, so a comment or a later
				// marker can override a tag's parameter.
				s.Structural[i].Param = param
				return
			}
		}
		s.Structural = append(s.Structural, Structural{Kind: kind, Param: param})
	}
}

// Resolve inspects the cell's source comments and metadata tags and returns
// the active policy set plus human-readable warnings (conflicting markers,
// overlapping surfaces).
//
// When both surfaces set the same conflict group, the comment marker wins.
// Within one surface, the latest marker of a group wins, with a warning.
func Resolve(cell notebook.Cell, opts Options) (Set, []string) {
	var set Set
	var warnings []string

	tagGroups := applyMarkers(&set, tagMarkers(cell.Tags), &warnings)
	commentSet, commentGroups := resolveComments(cell.Source, &warnings)

	if overlap := intersect(tagGroups, commentGroups); len(overlap) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"overlapping options from comments and metadata, using options from comments: %s",
			strings.Join(overlap, ", ")))
	}
	// Comment markers override tag markers group by group.
	mergeOver(&set, commentSet, commentGroups)

	applyMagics(&set, cell.Source, opts)
	return set, warnings
}

// resolveComments scans source lines for comment markers.
func resolveComments(source string, warnings *[]string) (Set, map[string]string) {
	var found []marker
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		comment := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if eff, ok := commentMarkers[comment]; ok {
			found = append(found, marker{name: comment, effect: eff})
		}
	}
	var set Set
	groups := applyMarkers(&set, found, warnings)
	return set, groups
}

type marker struct {
	name   string
	effect markerEffect
}

func tagMarkers(tags []string) []marker {
	var found []marker
	for _, tag := range tags {
		if eff, ok := metadataTags[tag]; ok {
			found = append(found, marker{name: tag, effect: eff})
		}
	}
	return found
}

// applyMarkers applies markers in order, warning when two markers of the same
// conflict group collide (the latest wins). Returns group -> winning marker.
func applyMarkers(set *Set, markers []marker, warnings *[]string) map[string]string {
	groups := make(map[string]string)
	for _, m := range markers {
		if prev, dup := groups[m.effect.group]; dup && prev != m.name {
			*warnings = append(*warnings, fmt.Sprintf(
				"conflicting markers found, using the latest: %s vs %s", prev, m.name))
		}
		groups[m.effect.group] = m.name
		m.effect.apply(set)
	}
	return groups
}

// mergeOver copies fields of src that belong to the given groups onto dst.
func mergeOver(dst *Set, src Set, groups map[string]string) {
	for group := range groups {
		switch group {
		case "skip":
			dst.Skip = src.Skip
		case "check":
			dst.Check = src.Check
			dst.VariableOutput = src.VariableOutput
		case "check_exception":
			dst.RaisesException = src.RaisesException
		default:
			// Structural group: adopt the structural entry of that kind.
			for _, st := range src.Structural {
				if string(st.Kind) == group {
					structural(st.Kind, st.Param)(dst)
				}
			}
		}
	}
}

func intersect(a, b map[string]string) []string {
	var out []string
	for g := range a {
		if _, ok := b[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// applyMagics handles timing/memory magic cells.
func applyMagics(set *Set, source string, opts Options) {
	if strings.HasPrefix(source, "%%time") || strings.HasPrefix(source, "%%memit") {
		set.TimingMagic = true
	}
	if opts.SkipTimeit && strings.HasPrefix(source, "%%time") {
		set.Skip = true
	}
	if opts.SkipMemit && strings.HasPrefix(source, "%%memit") {
		set.Skip = true
	}

	// A trailing line magic means the interesting output is the timing
	// report itself, which is not comparable.
	lines := nonEmptyLines(source)
	if len(lines) == 0 {
		return
	}
	last := lines[len(lines)-1]
	if opts.SkipTimeit && strings.HasPrefix(last, "%time") {
		set.Check = CheckNever
	}
	if opts.SkipMemit && strings.HasPrefix(last, "%memit") {
		set.Check = CheckNever
	}
}

func nonEmptyLines(source string) []string {
	var lines []string
	for _, l := range strings.Split(source, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// TrimMagicLines returns the source with per-line timing/memory magics
// removed ahead of execution, honoring the run options. Cell magics
// (%%-prefixed first lines) are left alone; those cells are skipped or
// ignored wholesale instead.
func TrimMagicLines(source string, opts Options) string {
	if !opts.SkipTimeit && !opts.SkipMemit {
		return source
	}
	lines := strings.Split(source, "\n")
	kept := lines[:0]
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if opts.SkipTimeit && strings.HasPrefix(trimmed, "%timeit") {
			continue
		}
		if opts.SkipMemit && strings.HasPrefix(trimmed, "%memit") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
