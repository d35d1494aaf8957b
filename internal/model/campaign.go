// internal/model/campaign.go
package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused:    {CampaignSending, CampaignCompleted, CampaignCancelled},
}

// CanTransition reports whether from -> to is an edge of the campaign lifecycle.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for completed and cancelled.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// IsEditable is true while non-status fields may still change.
func (s CampaignStatus) IsEditable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

// SendDelay converts an hourly send rate into the pause between two emails.
func SendDelay(sendRate int) time.Duration {
	return time.Duration(SendDelayMS(sendRate)) * time.Millisecond
}

// SendDelayMS is 3,600,000 / sendRate, in milliseconds.
func SendDelayMS(sendRate int) int64 {
	if sendRate <= 0 {
		return 0
	}
	return int64(3_600_000 / sendRate)
}

type Campaign struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	TemplateID string `db:"template_id" json:"template_id"`

	SegmentKind   string         `db:"segment_kind" json:"segment_kind"`
	SegmentFilter types.JSONText `db:"segment_filter" json:"segment_filter,omitempty"`

	FromName  string `db:"from_name" json:"from_name"`
	FromEmail string `db:"from_email" json:"from_email"`
	ReplyTo   string `db:"reply_to" json:"reply_to"`

	SendRate    int   `db:"send_rate" json:"send_rate"`
	SendDelayMS int64 `db:"send_delay_ms" json:"send_delay_ms"`
	IsDryRun    bool  `db:"is_dry_run" json:"is_dry_run"`

	Status      CampaignStatus `db:"status" json:"status"`
	ScheduledAt *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	PausedAt    *time.Time     `db:"paused_at" json:"paused_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	LastBatchAt *time.Time     `db:"last_batch_at" json:"last_batch_at,omitempty"`

	TotalRecipients        int  `db:"total_recipients" json:"total_recipients"`
	ResolvedRecipients     int  `db:"resolved_recipients" json:"resolved_recipients"`
	RecipientsMaterialized bool `db:"recipients_materialized" json:"recipients_materialized"`

	SentCount      int `db:"sent_count" json:"sent_count"`
	DeliveredCount int `db:"delivered_count" json:"delivered_count"`
	OpenedCount    int `db:"opened_count" json:"opened_count"`
	ClickedCount   int `db:"clicked_count" json:"clicked_count"`
	RepliedCount   int `db:"replied_count" json:"replied_count"`
	BouncedCount   int `db:"bounced_count" json:"bounced_count"`

	AutoResendEnabled    bool    `db:"auto_resend_enabled" json:"auto_resend_enabled"`
	AutoResendDelayHours int     `db:"auto_resend_delay_hours" json:"auto_resend_delay_hours"`
	AutoResendSubject    string  `db:"auto_resend_subject" json:"auto_resend_subject,omitempty"`
	ResendCampaignID     *string `db:"resend_campaign_id" json:"resend_campaign_id,omitempty"`
	ParentCampaignID     *string `db:"parent_campaign_id" json:"parent_campaign_id,omitempty"`
	SubjectOverride      string  `db:"subject_override" json:"subject_override,omitempty"`
	SignatureID          *string `db:"signature_id" json:"signature_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SendDelay is the throttle between two live sends of this campaign.
func (c *Campaign) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMS) * time.Millisecond
}

// ResendDueAt is when the auto-resend child should be created, or nil.
func (c *Campaign) ResendDueAt() *time.Time {
	if !c.AutoResendEnabled || c.CompletedAt == nil || c.ResendCampaignID != nil || c.ParentCampaignID != nil {
		return nil
	}
	due := c.CompletedAt.Add(time.Duration(c.AutoResendDelayHours) * time.Hour)
	return &due
}

// Counter names an aggregate counter column on campaigns.
type Counter string

const (
	CounterSent      Counter = "sent_count"
	CounterDelivered Counter = "delivered_count"
	CounterOpened    Counter = "opened_count"
	CounterClicked   Counter = "clicked_count"
	CounterReplied   Counter = "replied_count"
	CounterBounced   Counter = "bounced_count"
)

// Segment kinds understood by the resolver.
const (
	SegmentAll     = "all"
	SegmentActive  = "active"
	SegmentDormant = "dormant"
	SegmentVIP     = "vip"
	SegmentCustom  = "custom"
	SegmentResend  = "resend"
)

// ValidSegmentKind reports whether kind can be chosen by an operator.
func ValidSegmentKind(kind string) bool {
	switch kind {
	case SegmentAll, SegmentActive, SegmentDormant, SegmentVIP, SegmentCustom:
		return true
	}
	return false
}

// CampaignListFilter for listing campaigns.
type CampaignListFilter struct {
	Status string
	Limit  int
	Offset int
}
