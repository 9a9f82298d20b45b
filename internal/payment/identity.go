package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/store"
)

var ErrMissingEmail = errors.New("buyer email is required")

// Credentials are the login details of an account created with a generated
// password. They are only ever returned to the caller that created it.
type Credentials struct {
	Email    string
	Password string
}

// Identity is the account a paid purchase belongs to.
type Identity struct {
	AccountID         string
	Created           bool
	MustResetPassword bool
	Credentials       *Credentials
}

// Resolver finds or creates the buyer's account for a purchase.
type Resolver struct {
	accounts   *store.AccountStore
	purchases  *store.PurchaseStore
	bcryptCost int
	logger     *slog.Logger
}

func NewResolver(accounts *store.AccountStore, purchases *store.PurchaseStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts:   accounts,
		purchases:  purchases,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger,
	}
}

// Resolve returns the purchase's account, creating it from the buyer
// contact if no account has the buyer's email. Concurrent calls for the same
// email converge on one account. The account id is written back onto the
// purchase.
func (r *Resolver) Resolve(ctx context.Context, p *model.Purchase) (Identity, error) {
	if p.AccountID != nil && *p.AccountID != "" {
		a, err := r.accounts.GetByID(ctx, *p.AccountID)
		if err != nil {
			return Identity{}, err
		}
		if a != nil {
			return Identity{AccountID: a.ID, MustResetPassword: a.MustResetPassword}, nil
		}
		r.logger.Warn("purchase references missing account, resolving by email",
			"purchase_id", p.ID, "account_id", *p.AccountID)
	}

	email := store.NormalizeEmail(p.Buyer.Email)
	if email == "" {
		return Identity{}, ErrMissingEmail
	}

	a, err := r.accounts.GetByEmail(ctx, email)
	if err != nil {
		return Identity{}, err
	}
	if a != nil {
		return r.memoize(ctx, p, Identity{AccountID: a.ID, MustResetPassword: a.MustResetPassword})
	}

	na := store.NewAccount{
		Email: email,
		Phone: p.Buyer.Phone,
		TaxID: p.Buyer.TaxID,
	}
	na.FirstName, na.LastName = splitName(p.Buyer.Name)

	var creds *Credentials
	if p.PasswordHash != nil && *p.PasswordHash != "" {
		na.PasswordHash = *p.PasswordHash
	} else {
		pw, err := tempPassword(p.Buyer.Name, p.Buyer.TaxID, p.Buyer.Phone)
		if err != nil {
			return Identity{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), r.bcryptCost)
		if err != nil {
			return Identity{}, fmt.Errorf("hash password: %w", err)
		}
		na.PasswordHash = string(hash)
		na.MustResetPassword = true
		creds = &Credentials{Email: email, Password: pw}
	}

	a, created, err := r.accounts.CreateIfAbsent(ctx, na)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{AccountID: a.ID, Created: created, MustResetPassword: a.MustResetPassword}
	if created {
		id.Credentials = creds
		r.logger.Info("account created", "account_id", a.ID, "purchase_id", p.ID)
	}
	return r.memoize(ctx, p, id)
}

func (r *Resolver) memoize(ctx context.Context, p *model.Purchase, id Identity) (Identity, error) {
	if p.AccountID != nil && *p.AccountID == id.AccountID {
		return id, nil
	}
	if err := r.purchases.SetAccountID(ctx, p.ID, id.AccountID); err != nil {
		return Identity{}, err
	}
	p.AccountID = &id.AccountID
	return id, nil
}
