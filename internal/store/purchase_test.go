package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/model"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupPurchaseTestDB(t *testing.T) (*PurchaseStore, *model.Course) {
	t.Helper()
	db := openTestDB(t)
	course, err := NewCourseStore(db).Create(context.Background(), "Go Basics", "", decimal.NewFromInt(100), true)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	return NewPurchaseStore(db), course
}

func newPurchase(courseID, externalID string) NewPurchase {
	return NewPurchase{
		CourseID:      courseID,
		Buyer:         model.BuyerContact{Name: "Ana Souza", Email: "a@b.com", Phone: "11987654321"},
		Amount:        decimal.RequireFromString("100.00"),
		PaymentMethod: model.PaymentMethodPix,
		ExternalID:    externalID,
	}
}

func TestPurchaseCreate(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()

	p, created, err := s.Create(ctx, newPurchase(course.ID, "p1"))
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if !created {
		t.Error("expected created = true")
	}
	if p.Status != model.PurchaseStatusPending {
		t.Errorf("status = %q, want %q", p.Status, model.PurchaseStatusPending)
	}
	if !p.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("amount = %s, want 100", p.Amount)
	}
	if p.BillingID != nil {
		t.Error("expected nil billing id")
	}
	if p.AccountID != nil {
		t.Error("expected nil account id")
	}
	if p.Buyer.Email != "a@b.com" {
		t.Errorf("buyer email = %q, want %q", p.Buyer.Email, "a@b.com")
	}
}

func TestPurchaseCreateSameExternalID(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()

	first, _, err := s.Create(ctx, newPurchase(course.ID, "p2"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	retry := newPurchase(course.ID, "p2")
	retry.Amount = decimal.NewFromInt(999)
	second, created, err := s.Create(ctx, retry)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("expected created = false on retry")
	}
	if second.ID != first.ID {
		t.Errorf("id = %q, want %q", second.ID, first.ID)
	}
	if !second.Amount.Equal(first.Amount) {
		t.Errorf("amount = %s, want original %s", second.Amount, first.Amount)
	}
}

func TestPurchaseAttachBillingID(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))

	if err := s.AttachBillingID(ctx, "p1", "g1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// Same value again is a no-op.
	if err := s.AttachBillingID(ctx, "p1", "g1"); err != nil {
		t.Fatalf("attach again: %v", err)
	}

	p, err := s.GetByBillingID(ctx, "g1")
	if err != nil {
		t.Fatalf("get by billing id: %v", err)
	}
	if p == nil || p.ExternalID != "p1" {
		t.Fatalf("expected purchase p1, got %+v", p)
	}
}

func TestPurchaseAttachBillingIDNotFound(t *testing.T) {
	s, _ := setupPurchaseTestDB(t)

	err := s.AttachBillingID(context.Background(), "missing", "g1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPurchaseAttachBillingIDAfterPaid(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))
	s.AttachBillingID(ctx, "p1", "g1")
	if _, err := s.MarkPaidIfPending(ctx, "g1", model.ByBillingID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := s.AttachBillingID(ctx, "p1", "g2"); !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("err = %v, want ErrAlreadyPaid", err)
	}
	if err := s.AttachBillingID(ctx, "p1", "g1"); err != nil {
		t.Errorf("re-attaching the stored id should be a no-op, got %v", err)
	}
}

func TestPurchaseMarkPaidIfPending(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))
	s.AttachBillingID(ctx, "p1", "g1")

	res, err := s.MarkPaidIfPending(ctx, "g1", model.ByBillingID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if res.WasAlreadyPaid {
		t.Error("first mark should not report already paid")
	}
	if res.Purchase.Status != model.PurchaseStatusPaid {
		t.Errorf("status = %q, want paid", res.Purchase.Status)
	}
	if res.Purchase.PaidAt == nil {
		t.Error("expected paid_at to be set")
	}

	res, err = s.MarkPaidIfPending(ctx, "p1", model.ByExternalID)
	if err != nil {
		t.Fatalf("mark paid again: %v", err)
	}
	if !res.WasAlreadyPaid {
		t.Error("second mark should report already paid")
	}
}

func TestPurchaseMarkPaidIfPendingNotFound(t *testing.T) {
	s, _ := setupPurchaseTestDB(t)

	_, err := s.MarkPaidIfPending(context.Background(), "nope", model.ByBillingID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPurchaseMarkPaidIfPendingConcurrent(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))
	s.AttachBillingID(ctx, "p1", "g1")

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.MarkPaidIfPending(ctx, "g1", model.ByBillingID)
			if err != nil {
				t.Errorf("mark paid: %v", err)
				return
			}
			if !res.WasAlreadyPaid {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestPurchasePaidIsTerminal(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))
	s.MarkPaidIfPending(ctx, "p1", model.ByExternalID)

	cancelled, err := s.MarkCancelledIfPending(ctx, "p1", model.ByExternalID)
	if err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
	if cancelled {
		t.Error("paid purchase must not be cancelled")
	}

	// The schema rejects a direct write as well.
	_, err = s.db.ExecContext(ctx, `UPDATE course_purchases SET status = 'pending' WHERE external_id = ?`, "p1")
	if err == nil {
		t.Error("expected trigger to reject moving a paid purchase back to pending")
	}

	p, _ := s.GetByExternalID(ctx, "p1")
	if p.Status != model.PurchaseStatusPaid {
		t.Errorf("status = %q, want paid", p.Status)
	}
}

func TestPurchaseMarkPaidAfterCancel(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))

	ok, err := s.MarkCancelledIfPending(ctx, "p1", model.ByExternalID)
	if err != nil || !ok {
		t.Fatalf("mark cancelled: ok=%v err=%v", ok, err)
	}
	_, err = s.MarkPaidIfPending(ctx, "p1", model.ByExternalID)
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestPurchaseClaimNotification(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	p, _, _ := s.Create(ctx, newPurchase(course.ID, "p1"))

	first, err := s.ClaimNotification(ctx, p.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	second, err := s.ClaimNotification(ctx, p.ID)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if !first || second {
		t.Errorf("claims = (%v, %v), want (true, false)", first, second)
	}
}

func TestPurchaseListStalePending(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "no-session"))
	s.Create(ctx, newPurchase(course.ID, "with-session"))
	s.AttachBillingID(ctx, "with-session", "g1")
	s.Create(ctx, newPurchase(course.ID, "paid"))
	s.AttachBillingID(ctx, "paid", "g2")
	s.MarkPaidIfPending(ctx, "g2", model.ByBillingID)

	stale, err := s.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ExternalID != "with-session" {
		t.Fatalf("stale = %+v, want only with-session", stale)
	}

	stale, err = s.ListStalePending(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no purchases older than an hour, got %d", len(stale))
	}
}

func TestPurchaseListUnfulfilled(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	s.Create(ctx, newPurchase(course.ID, "p1"))
	res, _ := s.MarkPaidIfPending(ctx, "p1", model.ByExternalID)

	list, err := s.ListUnfulfilled(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list unfulfilled: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("len = %d for cutoff before payment, want 0", len(list))
	}

	list, err = s.ListUnfulfilled(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list unfulfilled: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}

	if err := s.MarkFulfilled(ctx, res.Purchase.ID); err != nil {
		t.Fatalf("mark fulfilled: %v", err)
	}
	list, _ = s.ListUnfulfilled(ctx, time.Now().Add(time.Second), 10)
	if len(list) != 0 {
		t.Errorf("len = %d after fulfilment, want 0", len(list))
	}
}

func TestPurchaseListByAccount(t *testing.T) {
	s, course := setupPurchaseTestDB(t)
	ctx := context.Background()
	a, _, err := NewAccountStore(s.db).CreateIfAbsent(ctx, NewAccount{Email: "a@b.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	mine, _, _ := s.Create(ctx, newPurchase(course.ID, "p1"))
	s.Create(ctx, newPurchase(course.ID, "p2"))
	if err := s.SetAccountID(ctx, mine.ID, a.ID); err != nil {
		t.Fatalf("set account: %v", err)
	}

	list, err := s.ListByAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ExternalID != "p1" {
		t.Errorf("purchases = %+v, want only p1", list)
	}

	list, err = s.ListByAccount(ctx, "nobody")
	if err != nil {
		t.Fatalf("list unknown: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("purchases for unknown account = %d, want 0", len(list))
	}
}
