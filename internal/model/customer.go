// internal/model/customer.go
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID            string          `db:"id" json:"id"`
	Email         string          `db:"email" json:"email"`
	FirstName     string          `db:"first_name" json:"first_name"`
	LastName      string          `db:"last_name" json:"last_name"`
	Company       string          `db:"company" json:"company"`
	Source        string          `db:"source" json:"source"`
	TotalOrders   int             `db:"total_orders" json:"total_orders"`
	LifetimeValue decimal.Decimal `db:"lifetime_value" json:"lifetime_value"`
	LastOrderAt   *time.Time      `db:"last_order_at" json:"last_order_at,omitempty"`
	Unsubscribed  bool            `db:"unsubscribed" json:"unsubscribed"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Recipient is one resolved segment member, ready to be queued.
type Recipient struct {
	CustomerID      *string
	Email           string
	Name            string
	Company         string
	Personalization Personalization
}

// RecipientFromCustomer builds the queue recipient with the customer's personalization fields.
func RecipientFromCustomer(c *Customer) Recipient {
	id := c.ID
	p := Personalization{
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"source":         c.Source,
		"total_orders":   strconv.Itoa(c.TotalOrders),
		"lifetime_value": c.LifetimeValue.StringFixed(2),
	}
	if c.LastOrderAt != nil {
		p["last_order_date"] = c.LastOrderAt.Format("2006-01-02")
	}
	return Recipient{
		CustomerID:      &id,
		Email:           strings.ToLower(strings.TrimSpace(c.Email)),
		Name:            c.FullName(),
		Company:         c.Company,
		Personalization: p,
	}
}
