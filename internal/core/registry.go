package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// The registry is append-mostly: rules are added and deactivated, never
// edited, so historical metrics always point at the predicate that produced
// them.

const ruleColumns = `id, rule_name, schema_name, table_name, column_name, check_type,
	rule_sql, expected_result, severity, is_active, created_at`

const (
	insertRuleSQL = `INSERT INTO validation_rules
	(rule_name, schema_name, table_name, column_name, check_type, rule_sql, expected_result, severity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

	seedRuleSQL = `INSERT INTO validation_rules
	(rule_name, schema_name, table_name, column_name, check_type, rule_sql, expected_result, severity)
SELECT $1, $2, $3, $4, $5, $6, $7, $8
WHERE NOT EXISTS (SELECT 1 FROM validation_rules WHERE rule_name = $1)`

	listActiveRulesSQL = `SELECT ` + ruleColumns + ` FROM validation_rules WHERE is_active ORDER BY id`
	listAllRulesSQL    = `SELECT ` + ruleColumns + ` FROM validation_rules ORDER BY id`
	getRuleSQL         = `SELECT ` + ruleColumns + ` FROM validation_rules WHERE id = $1`
	deactivateRuleSQL  = `UPDATE validation_rules SET is_active = false WHERE id = $1`
)

// DefaultExpectedResult is the expected scalar when a rule names none:
// most rules count offending rows.
const DefaultExpectedResult = "0"

// normalizeRule validates nr and fills defaults. It does not consult the
// catalog, so rules may be registered before their table exists.
func (s *Service) normalizeRule(nr NewRule) (NewRule, error) {
	nr.Name = strings.TrimSpace(nr.Name)
	nr.TableName = strings.TrimSpace(nr.TableName)
	nr.ColumnName = strings.TrimSpace(nr.ColumnName)
	nr.SchemaName = s.schemaOrDefault(strings.TrimSpace(nr.SchemaName))

	if nr.Name == "" {
		return nr, invalid("rule_name", "must not be empty")
	}
	if nr.TableName == "" {
		return nr, invalid("table_name", "must not be empty")
	}

	if nr.CheckType == "" {
		nr.CheckType = CheckSQL
	}
	if !nr.CheckType.Valid() {
		return nr, invalid("check_type", "unknown check type %q", nr.CheckType)
	}

	if nr.Severity == "" {
		nr.Severity = SeverityError
	}
	nr.Severity = Severity(strings.ToUpper(string(nr.Severity)))
	if !nr.Severity.Valid() {
		return nr, invalid("severity", "must be ERROR or WARNING, got %q", nr.Severity)
	}

	nr.ExpectedResult = strings.TrimSpace(nr.ExpectedResult)
	if nr.ExpectedResult == "" {
		nr.ExpectedResult = DefaultExpectedResult
	}

	switch {
	case nr.CheckType == CheckSQL:
		if strings.TrimSpace(nr.Predicate) == "" {
			return nr, invalid("rule_sql", "must not be empty")
		}
		if err := checkPlaceholders(nr.Predicate, nr.ColumnName != ""); err != nil {
			return nr, err
		}
	case nr.CheckType.NeedsColumn() && nr.ColumnName == "":
		return nr, invalid("column_name", "required for %s checks", nr.CheckType)
	case strings.TrimSpace(nr.Predicate) != "":
		return nr, invalid("rule_sql", "not allowed for %s checks", nr.CheckType)
	}
	return nr, nil
}

func ruleArgs(nr NewRule) []any {
	var column pgtype.Text
	if nr.ColumnName != "" {
		column = pgtype.Text{String: nr.ColumnName, Valid: true}
	}
	return []any{nr.Name, nr.SchemaName, nr.TableName, column, string(nr.CheckType),
		nr.Predicate, nr.ExpectedResult, string(nr.Severity)}
}

// AddRule validates and registers a rule, returning its id. The rule is
// active immediately.
func (s *Service) AddRule(ctx context.Context, nr NewRule) (int64, error) {
	nr, err := s.normalizeRule(nr)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.db.QueryRow(ctx, insertRuleSQL, ruleArgs(nr)...).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("add rule %q: %w", nr.Name, ErrDuplicateRule)
		}
		return 0, fmt.Errorf("add rule %q: %w", nr.Name, err)
	}

	s.logger.Info("rule registered", "rule_id", id, "rule_name", nr.Name,
		"table", nr.SchemaName+"."+nr.TableName, "check_type", nr.CheckType, "severity", nr.Severity)
	return id, nil
}

// SeedRules registers rules whose names are not yet present and returns how
// many were inserted. Every rule is validated before any is written.
func (s *Service) SeedRules(ctx context.Context, rules []NewRule) (int, error) {
	normalized := make([]NewRule, len(rules))
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		nr, err := s.normalizeRule(r)
		if err != nil {
			return 0, fmt.Errorf("seed rule %d (%q): %w", i, r.Name, err)
		}
		if seen[nr.Name] {
			return 0, fmt.Errorf("seed rule %d: %w", i, invalid("rule_name", "duplicate name %q", nr.Name))
		}
		seen[nr.Name] = true
		normalized[i] = nr
	}

	inserted := 0
	for _, nr := range normalized {
		tag, err := s.db.Exec(ctx, seedRuleSQL, ruleArgs(nr)...)
		if err != nil {
			return inserted, fmt.Errorf("seed rule %q: %w", nr.Name, err)
		}
		inserted += int(tag.RowsAffected())
	}

	s.logger.Info("rules seeded", "submitted", len(rules), "inserted", inserted)
	return inserted, nil
}

// ListActiveRules returns active rules ordered by id.
func (s *Service) ListActiveRules(ctx context.Context) ([]ValidationRule, error) {
	return s.listRules(ctx, listActiveRulesSQL)
}

// ListRules returns every rule, active or not, ordered by id.
func (s *Service) ListRules(ctx context.Context) ([]ValidationRule, error) {
	return s.listRules(ctx, listAllRulesSQL)
}

func (s *Service) listRules(ctx context.Context, query string) ([]ValidationRule, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []ValidationRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// GetRule returns one rule, active or not.
func (s *Service) GetRule(ctx context.Context, id int64) (ValidationRule, error) {
	r, err := scanRule(s.db.QueryRow(ctx, getRuleSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ValidationRule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return ValidationRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return r, nil
}

// DeactivateRule excludes a rule from future batches. Its history is kept.
func (s *Service) DeactivateRule(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, deactivateRuleSQL, id)
	if err != nil {
		return fmt.Errorf("deactivate rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	s.logger.Info("rule deactivated", "rule_id", id)
	return nil
}

func scanRule(row pgx.Row) (ValidationRule, error) {
	var (
		r         ValidationRule
		column    pgtype.Text
		checkType string
		severity  string
		createdAt pgtype.Timestamptz
	)
	err := row.Scan(&r.ID, &r.Name, &r.SchemaName, &r.TableName, &column, &checkType,
		&r.Predicate, &r.ExpectedResult, &severity, &r.Active, &createdAt)
	if err != nil {
		return ValidationRule{}, err
	}
	r.ColumnName = column.String
	r.CheckType = CheckType(checkType)
	r.Severity = Severity(severity)
	r.CreatedAt = createdAt.Time
	return r, nil
}
