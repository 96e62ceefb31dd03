package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/domain"
)

const contactColumns = `id, email, first_name, last_name, company, phone, city, state, country,
	unsubscribed, custom_fields`

// ContactRepo reads contacts for audience resolution.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// ListByIDs returns the contacts with the given ids. Unknown ids are skipped.
func (r *ContactRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id::text = ANY($1) ORDER BY created_at, id`,
		pq.Array(ids))
}

// Match returns the contacts satisfying all (or any) of rules.
func (r *ContactRepo) Match(ctx context.Context, match string, rules []domain.Rule) ([]domain.Contact, error) {
	where, args, err := buildRuleWhere(match, rules)
	if err != nil {
		return nil, err
	}
	return r.query(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE `+where+` ORDER BY created_at, id`,
		args...)
}

func (r *ContactRepo) query(ctx context.Context, q string, args ...interface{}) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var custom []byte
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Phone,
			&c.City, &c.State, &c.Country, &c.Unsubscribed, &custom); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if len(custom) > 0 {
			if err := json.Unmarshal(custom, &c.CustomFields); err != nil {
				return nil, fmt.Errorf("decode custom fields for %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// buildRuleWhere turns audience rules into a parameterized WHERE clause.
// Column names come only from domain.ContactFields; every value is bound.
func buildRuleWhere(match string, rules []domain.Rule) (string, []interface{}, error) {
	if len(rules) == 0 {
		return "", nil, fmt.Errorf("no audience rules")
	}
	var args []interface{}
	argIdx := 1
	nextArg := func(v interface{}) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", argIdx)
		argIdx++
		return p
	}

	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return "", nil, err
		}
		var col string
		if key, ok := rule.CustomField(); ok {
			col = fmt.Sprintf("COALESCE(custom_fields->>%s, '')", nextArg(key))
		} else {
			col = rule.Field
		}

		switch rule.Operator {
		case "eq":
			parts = append(parts, fmt.Sprintf("LOWER(%s) = LOWER(%s)", col, nextArg(rule.Value)))
		case "neq":
			parts = append(parts, fmt.Sprintf("LOWER(%s) <> LOWER(%s)", col, nextArg(rule.Value)))
		case "contains":
			parts = append(parts, fmt.Sprintf("%s ILIKE %s", col, nextArg("%"+escapeLike(rule.Value)+"%")))
		case "starts_with":
			parts = append(parts, fmt.Sprintf("%s ILIKE %s", col, nextArg(escapeLike(rule.Value)+"%")))
		case "in":
			vals := splitList(rule.Value)
			parts = append(parts, fmt.Sprintf("LOWER(%s) = ANY(%s)", col, nextArg(pq.Array(vals))))
		case "not_empty":
			parts = append(parts, fmt.Sprintf("%s <> ''", col))
		}
	}

	joiner := " AND "
	if match == "any" {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
