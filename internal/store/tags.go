package store

import "strings"

// tagCondition matches whole tags inside the comma-joined tags column of
// alias m. instr over comma-delimited boundaries is exact and case-sensitive,
// so "py" never matches "python" and no wildcard escaping is needed.
func tagCondition(tags []string, match TagMatch) (string, []any) {
	conds := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, t := range tags {
		conds[i] = `instr(',' || COALESCE(m.tags, '') || ',', ?) > 0`
		args[i] = "," + t + ","
	}
	op := " OR "
	if match == MatchAll {
		op = " AND "
	}
	return "(" + strings.Join(conds, op) + ")", args
}
