package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
)

// CustomerQuery narrows the customer table. Zero values impose no condition.
// Unsubscribed customers are always excluded.
type CustomerQuery struct {
	MinOrders       int
	MinSpent        *decimal.Decimal
	HasOrdered      bool
	OrderedAfter    *time.Time
	NotOrderedAfter *time.Time
	Source          string
	Company         string
	Emails          []string
}

// CustomerRepositoryInterface defines methods used by the segment resolver
type CustomerRepositoryInterface interface {
	Create(ctx context.Context, c *model.Customer) error
	GetByID(ctx context.Context, id string) (*model.Customer, error)
	Search(ctx context.Context, cq CustomerQuery) ([]model.Customer, error)
	SetUnsubscribed(ctx context.Context, email string, unsubscribed bool) error
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sqlx.DB
}

const customerColumns = `id, email, first_name, last_name, company, source,
	total_orders, lifetime_value, last_order_at, unsubscribed, created_at`

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utcNow()
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	_, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), `
INSERT INTO customers (`+customerColumns+`)
VALUES (:id, :email, :first_name, :last_name, :company, :source,
	:total_orders, :lifetime_value, :last_order_at, :unsubscribed, :created_at)`, c)
	return err
}

// GetByID fetches a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*model.Customer, error) {
	q := querier(ctx, r.DB)
	var c model.Customer
	err := q.GetContext(ctx, &c, q.Rebind(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Search returns matching subscribed customers ordered by email.
func (r *CustomerRepository) Search(ctx context.Context, cq CustomerQuery) ([]model.Customer, error) {
	conds := []string{"unsubscribed = ?"}
	args := []interface{}{false}

	if cq.MinOrders > 0 {
		conds = append(conds, "total_orders >= ?")
		args = append(args, cq.MinOrders)
	}
	if cq.MinSpent != nil {
		conds = append(conds, "lifetime_value >= ?")
		args = append(args, *cq.MinSpent)
	}
	if cq.HasOrdered {
		conds = append(conds, "total_orders > 0", "last_order_at IS NOT NULL")
	}
	if cq.OrderedAfter != nil {
		conds = append(conds, "last_order_at >= ?")
		args = append(args, *cq.OrderedAfter)
	}
	if cq.NotOrderedAfter != nil {
		conds = append(conds, "(last_order_at IS NULL OR last_order_at < ?)")
		args = append(args, *cq.NotOrderedAfter)
	}
	if cq.Source != "" {
		conds = append(conds, "LOWER(source) = ?")
		args = append(args, strings.ToLower(cq.Source))
	}
	if cq.Company != "" {
		conds = append(conds, "LOWER(company) = ?")
		args = append(args, strings.ToLower(cq.Company))
	}
	if len(cq.Emails) > 0 {
		emails := make([]string, 0, len(cq.Emails))
		for _, e := range cq.Emails {
			emails = append(emails, strings.ToLower(strings.TrimSpace(e)))
		}
		conds = append(conds, "LOWER(email) IN (?)")
		args = append(args, emails)
	}

	query, inArgs, err := sqlx.In(`SELECT `+customerColumns+` FROM customers WHERE `+strings.Join(conds, " AND ")+` ORDER BY email, id`, args...)
	if err != nil {
		return nil, err
	}
	q := querier(ctx, r.DB)
	customers := []model.Customer{}
	if err := q.SelectContext(ctx, &customers, q.Rebind(query), inArgs...); err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *CustomerRepository) SetUnsubscribed(ctx context.Context, email string, unsubscribed bool) error {
	q := querier(ctx, r.DB)
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE customers SET unsubscribed = ? WHERE LOWER(email) = ?`),
		unsubscribed, strings.ToLower(strings.TrimSpace(email)))
	return err
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
