// internal/model/settings.go
package model

import "time"

// OutreachSettings supplies defaults copied into a campaign at creation time.
type OutreachSettings struct {
	ID                 int       `db:"id" json:"id"`
	SenderName         string    `db:"sender_name" json:"sender_name"`
	SenderEmail        string    `db:"sender_email" json:"sender_email"`
	ReplyTo            string    `db:"reply_to" json:"reply_to"`
	SendRate           int       `db:"send_rate" json:"send_rate"`
	DefaultSignatureID *string   `db:"default_signature_id" json:"default_signature_id,omitempty"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
