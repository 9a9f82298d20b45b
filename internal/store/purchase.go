package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/model"
)

type PurchaseStore struct {
	db *database.DB
}

func NewPurchaseStore(db *database.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func scanPurchase(scanner interface{ Scan(...any) error }) (*model.Purchase, error) {
	var p model.Purchase
	var method, status string
	var billingID, accountID, passwordHash sql.NullString
	var paidAt, enrolledAt, fulfilledAt, notifiedAt sql.NullTime
	err := scanner.Scan(
		&p.ID, &p.CourseID,
		&p.Buyer.Name, &p.Buyer.Email, &p.Buyer.Phone, &p.Buyer.TaxID,
		&p.Amount, &method, &p.ExternalID, &billingID, &status, &accountID, &passwordHash,
		&paidAt, &enrolledAt, &fulfilledAt, &notifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentMethod = model.PaymentMethod(method)
	p.Status = model.PurchaseStatus(status)
	if billingID.Valid {
		p.BillingID = &billingID.String
	}
	if accountID.Valid {
		p.AccountID = &accountID.String
	}
	if passwordHash.Valid {
		p.PasswordHash = &passwordHash.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	if enrolledAt.Valid {
		p.EnrolledAt = &enrolledAt.Time
	}
	if fulfilledAt.Valid {
		p.FulfilledAt = &fulfilledAt.Time
	}
	if notifiedAt.Valid {
		p.NotifiedAt = &notifiedAt.Time
	}
	return &p, nil
}

const purchaseCols = `id, course_id, buyer_name, buyer_email, buyer_phone, buyer_tax_id, amount, payment_method, external_id, billing_id, status, account_id, password_hash, paid_at, enrolled_at, fulfilled_at, notified_at, created_at, updated_at`

func identifierColumn(kind model.IdentifierKind) (string, error) {
	switch kind {
	case model.ByExternalID:
		return "external_id", nil
	case model.ByBillingID:
		return "billing_id", nil
	}
	return "", fmt.Errorf("unknown purchase identifier kind %q", kind)
}

// NewPurchase holds the fields a buyer supplies when starting a purchase.
type NewPurchase struct {
	CourseID      string
	Buyer         model.BuyerContact
	Amount        decimal.Decimal
	PaymentMethod model.PaymentMethod
	ExternalID    string
	AccountID     *string
	PasswordHash  *string
}

// Create inserts a pending purchase keyed by its external id. A retry with an
// external id that already exists returns the stored row and created=false.
func (s *PurchaseStore) Create(ctx context.Context, np NewPurchase) (*model.Purchase, bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO course_purchases (id, course_id, buyer_name, buyer_email, buyer_phone, buyer_tax_id,
			amount, payment_method, external_id, status, account_id, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		uuid.NewString(), np.CourseID, np.Buyer.Name, np.Buyer.Email, np.Buyer.Phone, np.Buyer.TaxID,
		np.Amount.StringFixed(2), string(np.PaymentMethod), np.ExternalID, string(model.PurchaseStatusPending),
		np.AccountID, np.PasswordHash, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert purchase: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	p, err := s.GetByExternalID(ctx, np.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("purchase %s missing after insert", np.ExternalID)
	}
	return p, n == 1, nil
}

func (s *PurchaseStore) get(ctx context.Context, col, value string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseCols+` FROM course_purchases WHERE `+col+` = ?`, value)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by %s: %w", col, err)
	}
	return p, nil
}

func (s *PurchaseStore) GetByID(ctx context.Context, id string) (*model.Purchase, error) {
	return s.get(ctx, "id", id)
}

func (s *PurchaseStore) GetByExternalID(ctx context.Context, externalID string) (*model.Purchase, error) {
	return s.get(ctx, "external_id", externalID)
}

func (s *PurchaseStore) GetByBillingID(ctx context.Context, billingID string) (*model.Purchase, error) {
	return s.get(ctx, "billing_id", billingID)
}

// Get looks a purchase up by external id or billing id.
func (s *PurchaseStore) Get(ctx context.Context, identifier string, kind model.IdentifierKind) (*model.Purchase, error) {
	col, err := identifierColumn(kind)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, col, identifier)
}

// AttachBillingID records the gateway session id on a pending purchase.
// Attaching the id already stored is a no-op; a new id replaces the old one
// while the purchase is still pending.
func (s *PurchaseStore) AttachBillingID(ctx context.Context, externalID, billingID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET billing_id = ?, updated_at = ?
		WHERE external_id = ? AND status = ? AND (billing_id IS NULL OR billing_id <> ?)`,
		billingID, time.Now().UTC(), externalID, string(model.PurchaseStatusPending), billingID,
	)
	if err != nil {
		return fmt.Errorf("attach billing id: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 1 {
		return nil
	}

	p, err := s.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	switch {
	case p == nil:
		return ErrNotFound
	case p.BillingID != nil && *p.BillingID == billingID:
		return nil
	case p.Status == model.PurchaseStatusPaid:
		return ErrAlreadyPaid
	default:
		return ErrNotPending
	}
}

// MarkResult is the outcome of MarkPaidIfPending.
type MarkResult struct {
	WasAlreadyPaid bool
	Purchase       *model.Purchase
}

// MarkPaidIfPending flips a pending purchase to paid with a single
// conditional update. Exactly one caller per purchase observes
// WasAlreadyPaid=false; that caller owns the one-time side effects.
func (s *PurchaseStore) MarkPaidIfPending(ctx context.Context, identifier string, kind model.IdentifierKind) (MarkResult, error) {
	col, err := identifierColumn(kind)
	if err != nil {
		return MarkResult{}, err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET status = ?, paid_at = ?, updated_at = ?
		WHERE `+col+` = ? AND status = ?`,
		string(model.PurchaseStatusPaid), now, now, identifier, string(model.PurchaseStatusPending),
	)
	if err != nil {
		return MarkResult{}, fmt.Errorf("mark purchase paid: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return MarkResult{}, fmt.Errorf("rows affected: %w", err)
	}

	p, err := s.get(ctx, col, identifier)
	if err != nil {
		return MarkResult{}, err
	}
	if p == nil {
		return MarkResult{}, ErrNotFound
	}
	if n == 1 {
		return MarkResult{Purchase: p}, nil
	}
	if p.Status == model.PurchaseStatusPaid {
		return MarkResult{WasAlreadyPaid: true, Purchase: p}, nil
	}
	return MarkResult{Purchase: p}, ErrNotPending
}

// MarkCancelledIfPending cancels a purchase the gateway reported as expired or
// cancelled. Paid purchases are never touched.
func (s *PurchaseStore) MarkCancelledIfPending(ctx context.Context, identifier string, kind model.IdentifierKind) (bool, error) {
	col, err := identifierColumn(kind)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET status = ?, updated_at = ? WHERE `+col+` = ? AND status = ?`,
		string(model.PurchaseStatusCancelled), time.Now().UTC(), identifier, string(model.PurchaseStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark purchase cancelled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PurchaseStore) SetAccountID(ctx context.Context, id, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET account_id = ?, updated_at = ? WHERE id = ?`,
		accountID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set purchase account id: %w", err)
	}
	return nil
}

func (s *PurchaseStore) MarkFulfilled(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET fulfilled_at = ?, updated_at = ? WHERE id = ? AND fulfilled_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark purchase fulfilled: %w", err)
	}
	return nil
}

// ClaimNotification stamps notified_at and reports whether this caller set
// it. Only the claiming caller may message the buyer.
func (s *PurchaseStore) ClaimNotification(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE course_purchases SET notified_at = ?, updated_at = ? WHERE id = ? AND notified_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim purchase notification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PurchaseStore) list(ctx context.Context, query string, args ...any) ([]model.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// ListStalePending returns pending purchases with an open gateway session
// created before the cutoff, oldest first.
func (s *PurchaseStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Purchase, error) {
	return s.list(ctx,
		`SELECT `+purchaseCols+` FROM course_purchases
		WHERE status = ? AND billing_id IS NOT NULL AND created_at < ?
		ORDER BY created_at LIMIT ?`,
		string(model.PurchaseStatusPending), before.UTC(), limit,
	)
}

// ListUnfulfilled returns purchases paid before the cutoff whose account or
// enrollment step never completed.
func (s *PurchaseStore) ListUnfulfilled(ctx context.Context, paidBefore time.Time, limit int) ([]model.Purchase, error) {
	return s.list(ctx,
		`SELECT `+purchaseCols+` FROM course_purchases
		WHERE status = ? AND fulfilled_at IS NULL AND paid_at < ?
		ORDER BY paid_at LIMIT ?`,
		string(model.PurchaseStatusPaid), paidBefore.UTC(), limit,
	)
}

func (s *PurchaseStore) ListByAccount(ctx context.Context, accountID string) ([]model.Purchase, error) {
	return s.list(ctx,
		`SELECT `+purchaseCols+` FROM course_purchases WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	)
}
