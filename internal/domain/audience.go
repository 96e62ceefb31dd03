package domain

import (
	"fmt"
	"strings"
)

// AudienceType selects how an audience is resolved at queue time.
type AudienceType string

const (
	AudienceStatic AudienceType = "static"
	AudienceRules  AudienceType = "rules"
)

// Audience is either a fixed snapshot of contact IDs or a rule set evaluated
// when the campaign is queued.
type Audience struct {
	Type      AudienceType `json:"type"`
	MemberIDs []string     `json:"member_ids,omitempty"`
	Match     string       `json:"match,omitempty"` // "all" (default) or "any"
	Rules     []Rule       `json:"rules,omitempty"`
}

// Rule is a single contact filter condition.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // eq, neq, contains, starts_with, in, not_empty
	Value    string `json:"value,omitempty"`
}

// ContactFields are the contact columns a rule may filter on. Custom fields
// are addressed as "custom.<key>".
var ContactFields = map[string]bool{
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"company":    true,
	"phone":      true,
	"city":       true,
	"state":      true,
	"country":    true,
}

// RuleOperators are the supported rule comparisons.
var RuleOperators = map[string]bool{
	"eq":          true,
	"neq":         true,
	"contains":    true,
	"starts_with": true,
	"in":          true,
	"not_empty":   true,
}

// CustomField returns the custom field key for a "custom.<key>" rule field.
func (r Rule) CustomField() (string, bool) {
	if !strings.HasPrefix(r.Field, "custom.") {
		return "", false
	}
	key := strings.TrimPrefix(r.Field, "custom.")
	return key, key != ""
}

// Validate checks the field and operator against the allowed sets.
func (r Rule) Validate() error {
	if _, ok := r.CustomField(); !ok && !ContactFields[r.Field] {
		return fmt.Errorf("unknown field %q", r.Field)
	}
	if !RuleOperators[r.Operator] {
		return fmt.Errorf("unknown operator %q", r.Operator)
	}
	if r.Operator != "not_empty" && r.Value == "" {
		return fmt.Errorf("operator %s needs a value", r.Operator)
	}
	return nil
}

// Validate checks the audience shape, including every rule.
func (a Audience) Validate() error {
	switch a.Type {
	case AudienceStatic:
		if len(a.MemberIDs) == 0 {
			return fmt.Errorf("static audience has no members")
		}
	case AudienceRules:
		if len(a.Rules) == 0 {
			return fmt.Errorf("rule audience has no rules")
		}
		if a.Match != "" && a.Match != "all" && a.Match != "any" {
			return fmt.Errorf("audience match must be all or any, got %q", a.Match)
		}
		for i, r := range a.Rules {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown audience type %q", a.Type)
	}
	return nil
}

// Contact is a row of the contacts table the resolver reads from.
type Contact struct {
	ID           string            `json:"id" db:"id"`
	Email        string            `json:"email" db:"email"`
	FirstName    string            `json:"first_name" db:"first_name"`
	LastName     string            `json:"last_name" db:"last_name"`
	Company      string            `json:"company" db:"company"`
	Phone        string            `json:"phone" db:"phone"`
	City         string            `json:"city" db:"city"`
	State        string            `json:"state" db:"state"`
	Country      string            `json:"country" db:"country"`
	Unsubscribed bool              `json:"unsubscribed" db:"unsubscribed"`
	CustomFields map[string]string `json:"custom_fields,omitempty" db:"custom_fields"`
}
