package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/model"
)

type AccountStore struct {
	db *database.DB
}

func NewAccountStore(db *database.DB) *AccountStore {
	return &AccountStore{db: db}
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := scanner.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.MustResetPassword, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountCols = `id, email, password_hash, must_reset_password, created_at, updated_at`

// NewAccount holds the fields for an account created at payment confirmation.
type NewAccount struct {
	Email             string
	PasswordHash      string
	MustResetPassword bool
	FirstName         string
	LastName          string
	Phone             string
	TaxID             string
}

// CreateIfAbsent inserts the account and its profile unless an account with
// the same email exists. It returns the account stored for the email, which
// is the winner's row when a concurrent insert got there first.
func (s *AccountStore) CreateIfAbsent(ctx context.Context, na NewAccount) (*model.Account, bool, error) {
	email := NormalizeEmail(na.Email)
	if email == "" {
		return nil, false, fmt.Errorf("create account: empty email")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	id := uuid.NewString()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, must_reset_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`,
		id, email, na.PasswordHash, na.MustResetPassword, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	if n == 1 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO profiles (account_id, first_name, last_name, phone, tax_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, na.FirstName, na.LastName, na.Phone, na.TaxID, now, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit account: %w", err)
	}

	a, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		return nil, false, fmt.Errorf("account %s missing after insert", email)
	}
	return a, n == 1, nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, NormalizeEmail(email))
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, first_name, last_name, phone, tax_id, created_at, updated_at FROM profiles WHERE account_id = ?`,
		accountID,
	).Scan(&p.AccountID, &p.FirstName, &p.LastName, &p.Phone, &p.TaxID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}
