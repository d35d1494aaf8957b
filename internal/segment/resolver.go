package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

// Resolver turns a segment descriptor into a recipient list.
type Resolver interface {
	Resolve(ctx context.Context, kind string, filter []byte) ([]model.Recipient, error)
}

// Filter is the JSON filter of custom and resend segments.
type Filter struct {
	MinOrders            *int             `json:"min_orders,omitempty"`
	MinSpent             *decimal.Decimal `json:"min_spent,omitempty"`
	OrderedWithinDays    *int             `json:"ordered_within_days,omitempty"`
	NotOrderedWithinDays *int             `json:"not_ordered_within_days,omitempty"`
	Source               string           `json:"source,omitempty"`
	Company              string           `json:"company,omitempty"`
	Emails               []string         `json:"emails,omitempty"`
	ParentCampaignID     string           `json:"parent_campaign_id,omitempty"`
}

// ParseFilter decodes raw; an empty document is an empty filter.
func ParseFilter(raw []byte) (Filter, error) {
	var f Filter
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return f, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, appErrors.NewValidation("segment_filter", err.Error())
	}
	return f, nil
}

// ResendFilter is the stored filter of an auto-resend child.
func ResendFilter(parentID string) []byte {
	b, _ := json.Marshal(Filter{ParentCampaignID: parentID})
	return b
}

type Config struct {
	VIPThreshold decimal.Decimal
	ActiveDays   int
	DormantDays  int
}

// CustomerResolver resolves segments against the customers table.
type CustomerResolver struct {
	Customers repository.CustomerRepositoryInterface
	Emails    repository.QueuedEmailRepositoryInterface
	Config    Config
	Now       func() time.Time
}

func (r *CustomerResolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *CustomerResolver) Resolve(ctx context.Context, kind string, raw []byte) ([]model.Recipient, error) {
	f, err := ParseFilter(raw)
	if err != nil {
		return nil, err
	}
	if kind == model.SegmentResend {
		return r.resolveResend(ctx, f)
	}

	cq, err := r.query(kind, f)
	if err != nil {
		return nil, err
	}
	customers, err := r.Customers.Search(ctx, cq)
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}

	out := make([]model.Recipient, 0, len(customers))
	for i := range customers {
		out = append(out, model.RecipientFromCustomer(&customers[i]))
	}
	return normalize(out), nil
}

func (r *CustomerResolver) daysAgo(days int) *time.Time {
	t := r.now().AddDate(0, 0, -days)
	return &t
}

func (r *CustomerResolver) query(kind string, f Filter) (repository.CustomerQuery, error) {
	cq := repository.CustomerQuery{}
	switch kind {
	case model.SegmentAll:
	case model.SegmentActive:
		cq.OrderedAfter = r.daysAgo(r.Config.ActiveDays)
	case model.SegmentDormant:
		cq.HasOrdered = true
		cq.NotOrderedAfter = r.daysAgo(r.Config.DormantDays)
	case model.SegmentVIP:
		threshold := r.Config.VIPThreshold
		cq.MinSpent = &threshold
	case model.SegmentCustom:
		if f.MinOrders != nil {
			cq.MinOrders = *f.MinOrders
		}
		cq.MinSpent = f.MinSpent
		if f.OrderedWithinDays != nil {
			cq.OrderedAfter = r.daysAgo(*f.OrderedWithinDays)
		}
		if f.NotOrderedWithinDays != nil {
			cq.NotOrderedAfter = r.daysAgo(*f.NotOrderedWithinDays)
		}
		cq.Source = f.Source
		cq.Company = f.Company
		cq.Emails = f.Emails
	default:
		return cq, appErrors.NewValidation("segment_kind", fmt.Sprintf("unknown segment %q", kind))
	}
	return cq, nil
}

var resendStatuses = []model.EmailStatus{model.EmailSent, model.EmailDelivered}

// resolveResend targets parent recipients that never engaged, bounced or failed.
func (r *CustomerResolver) resolveResend(ctx context.Context, f Filter) ([]model.Recipient, error) {
	if f.ParentCampaignID == "" {
		return nil, appErrors.NewValidation("segment_filter", "parent_campaign_id is required")
	}
	rows, err := r.Emails.ListByStatuses(ctx, f.ParentCampaignID, resendStatuses)
	if err != nil {
		return nil, fmt.Errorf("load parent recipients: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	emails := make([]string, 0, len(rows))
	for _, row := range rows {
		emails = append(emails, row.Email)
	}
	subscribed, err := r.Customers.Search(ctx, repository.CustomerQuery{Emails: emails})
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	allowed := make(map[string]bool, len(subscribed))
	for _, c := range subscribed {
		allowed[strings.ToLower(c.Email)] = true
	}

	out := make([]model.Recipient, 0, len(rows))
	for _, row := range rows {
		if !allowed[strings.ToLower(row.Email)] {
			continue
		}
		out = append(out, model.Recipient{
			CustomerID:      row.CustomerID,
			Email:           row.Email,
			Name:            row.Name,
			Company:         row.Company,
			Personalization: row.Personalization,
		})
	}
	return normalize(out), nil
}

// normalize lowercases emails, drops blanks and duplicates, and sorts by email.
func normalize(in []model.Recipient) []model.Recipient {
	seen := make(map[string]bool, len(in))
	out := make([]model.Recipient, 0, len(in))
	for _, rc := range in {
		rc.Email = strings.ToLower(strings.TrimSpace(rc.Email))
		if rc.Email == "" || seen[rc.Email] {
			continue
		}
		seen[rc.Email] = true
		out = append(out, rc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

var _ Resolver = (*CustomerResolver)(nil)
