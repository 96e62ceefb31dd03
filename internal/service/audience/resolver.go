// Package audience expands a campaign audience into the recipient rows
// materialized at queue time.
package audience

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

// ContactSource reads the contacts an audience refers to.
type ContactSource interface {
	ListByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
	Match(ctx context.Context, match string, rules []domain.Rule) ([]domain.Contact, error)
}

// Resolver implements campaign.Resolver.
type Resolver struct {
	contacts ContactSource
}

// NewResolver creates a resolver over a contact source.
func NewResolver(contacts ContactSource) *Resolver {
	return &Resolver{contacts: contacts}
}

// Resolve returns one pending recipient per unique address. Unsubscribed
// contacts and contacts without a usable address are skipped; duplicates
// are matched on the lower-cased address and the first one wins.
func (r *Resolver) Resolve(ctx context.Context, campaignID string, a domain.Audience) ([]domain.Recipient, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", campaign.ErrValidation, err)
	}

	var contacts []domain.Contact
	var err error
	switch a.Type {
	case domain.AudienceStatic:
		contacts, err = r.static(ctx, a.MemberIDs)
	case domain.AudienceRules:
		match := a.Match
		if match == "" {
			match = "all"
		}
		contacts, err = r.contacts.Match(ctx, match, a.Rules)
	}
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}

	seen := make(map[string]bool, len(contacts))
	out := make([]domain.Recipient, 0, len(contacts))
	var unsubscribed, invalid, duplicates int
	for _, c := range contacts {
		if c.Unsubscribed {
			unsubscribed++
			continue
		}
		email := domain.NormalizeEmail(c.Email)
		if !plausibleAddress(email) {
			invalid++
			continue
		}
		if seen[email] {
			duplicates++
			continue
		}
		seen[email] = true
		out = append(out, toRecipient(campaignID, email, c))
	}

	logger.Info("audience resolved",
		"campaign_id", campaignID,
		"type", a.Type,
		"contacts", len(contacts),
		"recipients", len(out),
		"unsubscribed", unsubscribed,
		"invalid", invalid,
		"duplicates", duplicates,
	)
	return out, nil
}

// static loads member contacts and keeps the order of the member list.
func (r *Resolver) static(ctx context.Context, ids []string) ([]domain.Contact, error) {
	pos := make(map[string]int, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := pos[id]; !ok {
			pos[id] = len(unique)
			unique = append(unique, id)
		}
	}
	contacts, err := r.contacts.ListByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		return pos[contacts[i].ID] < pos[contacts[j].ID]
	})
	return contacts, nil
}

func toRecipient(campaignID, email string, c domain.Contact) domain.Recipient {
	r := domain.Recipient{
		CampaignID:     campaignID,
		ContactID:      c.ID,
		Email:          email,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Company:        c.Company,
		Phone:          c.Phone,
		City:           c.City,
		State:          c.State,
		Country:        c.Country,
		Status:         domain.RecipientPending,
		DeliveryStatus: domain.DeliveryPending,
	}
	r.Name = r.DisplayName()
	if len(c.CustomFields) > 0 {
		r.Variables = make(map[string]string, len(c.CustomFields))
		for k, v := range c.CustomFields {
			r.Variables[k] = v
		}
	}
	return r
}

func plausibleAddress(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
