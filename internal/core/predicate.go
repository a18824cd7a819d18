package core

import (
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/zeebo/xxh3"
)

// Rule SQL may reference its target through placeholders instead of
// hard-coding identifiers:
//
//	{{schema}}    quoted schema name
//	{{table}}     quoted table name
//	{{relation}}  quoted schema.table
//	{{column}}    quoted column name (rule must name a column)
//
// Values come from catalog-resolved identifiers, never from free text.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

var knownPlaceholders = map[string]bool{
	"schema":   true,
	"table":    true,
	"relation": true,
	"column":   true,
}

// checkPlaceholders rejects unknown placeholders and {{column}} without a column.
func checkPlaceholders(tmpl string, hasColumn bool) error {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if !knownPlaceholders[name] {
			return invalid("rule_sql", "unknown placeholder {{%s}}", name)
		}
		if name == "column" && !hasColumn {
			return invalid("rule_sql", "{{column}} requires column_name")
		}
	}
	return nil
}

// renderPredicate substitutes placeholders with quoted identifiers.
func renderPredicate(tmpl string, ref TableRef, col *ColumnRef) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch placeholderPattern.FindStringSubmatch(m)[1] {
		case "schema":
			return pgx.Identifier{ref.Schema}.Sanitize()
		case "table":
			return pgx.Identifier{ref.Name}.Sanitize()
		case "relation":
			return ref.Relation()
		case "column":
			if col != nil {
				return col.Ident()
			}
		}
		return m
	})
}

// fingerprint identifies a predicate text across runs so that history can be
// grouped even after a rule is renamed.
func fingerprint(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}
