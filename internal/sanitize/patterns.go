package sanitize

import "regexp"

// mustRules compiles built-in pattern pairs at init time.
func mustRules(pairs [][2]string) Rules {
	rules := make(Rules, 0, len(pairs))
	for _, p := range pairs {
		rules = append(rules, Rule{Pattern: regexp.MustCompile(p[0]), Replace: p[1]})
	}
	return rules
}

// CorePatterns covers volatile object reprs that commonly appear in teaching
// notebooks: library objects printed with their memory address, timing and
// memory-profile reports. Enabled by default; disable with the
// --no-core-sanitize run option.
func CorePatterns() Rules {
	return mustRules([][2]string{
		{`<graphviz\.files\.Source at [^>]*>`, `<graphviz.files.Source>`},
		{`(?m)^.* per loop .mean ± std\. dev\. of [0-9]+ runs, [0-9]+ loops? each.`, `TIMING-REPORT`},
		{`peak memory: .* MiB, increment: .* MiB`, `MEMORY-REPORT`},
		{`<seaborn\..* at 0x[a-f0-9]*>`, `SEABORN-ID`},
		{`<pandas\.core\.groupby\.generic\.DataFrameGroupBy object at 0x[a-f0-9]*>`, `PANDAS_GROUP_BY`},
		{`<pymongo\.results\.InsertOneResult at 0x[a-f0-9]*>`, `MONGO_INSERT_ONE`},
		{`<pymongo\.results\.InsertManyResult at 0x[a-f0-9]*>`, `MONGO_INSERT_MANY`},
		{`<pymongo\.cursor\.Cursor at 0x[a-f0-9]*>`, `MONGO_CURSOR`},
		{`<pymongo\.results\.UpdateResult at 0x[a-f0-9]*>`, `MONGO_UPDATE`},
	})
}

// TimeitPatterns normalizes %%time / %%timeit magic output so timing cells
// can still be compared structurally rather than skipped outright.
func TimeitPatterns() Rules {
	return mustRules([][2]string{
		{`CPU times: .*`, `CPU times: CPUTIME`},
		{`Wall time: .*`, `Wall time: WALLTIME`},
		{`.* per loop \(mean ± std\. dev\. of .* runs, .* loops each\)`, `TIMEIT_REPORT`},
	})
}
