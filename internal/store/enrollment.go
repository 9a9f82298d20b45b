package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/model"
)

type EnrollmentStore struct {
	db *database.DB
}

func NewEnrollmentStore(db *database.DB) *EnrollmentStore {
	return &EnrollmentStore{db: db}
}

func scanEnrollment(scanner interface{ Scan(...any) error }) (*model.Enrollment, error) {
	var e model.Enrollment
	var lastAccessed sql.NullTime
	if err := scanner.Scan(&e.AccountID, &e.CourseID, &e.EnrolledAt, &lastAccessed); err != nil {
		return nil, err
	}
	if lastAccessed.Valid {
		e.LastAccessed = &lastAccessed.Time
	}
	return &e, nil
}

const enrollmentCols = `account_id, course_id, enrolled_at, last_accessed`

// GrantForPurchase enrolls the account in the purchase's course unless it
// already is. When a row is created the purchase's enrolled_at is stamped in
// the same transaction, so the purchase that caused an enrollment can be
// told apart later from one that found it already in place.
func (s *EnrollmentStore) GrantForPurchase(ctx context.Context, purchaseID, accountID, courseID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO course_enrollments (account_id, course_id, enrolled_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id, course_id) DO NOTHING`,
		accountID, courseID, now,
	)
	if err != nil {
		return false, fmt.Errorf("grant enrollment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE course_purchases SET enrolled_at = ?, updated_at = ? WHERE id = ? AND enrolled_at IS NULL`,
		now, now, purchaseID,
	)
	if err != nil {
		return false, fmt.Errorf("stamp purchase enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *EnrollmentStore) Get(ctx context.Context, accountID, courseID string) (*model.Enrollment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+enrollmentCols+` FROM course_enrollments WHERE account_id = ? AND course_id = ?`,
		accountID, courseID,
	)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (s *EnrollmentStore) ListByAccount(ctx context.Context, accountID string) ([]model.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+enrollmentCols+` FROM course_enrollments WHERE account_id = ? ORDER BY enrolled_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func (s *EnrollmentStore) CountForCourse(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM course_enrollments WHERE course_id = ?`, courseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return n, nil
}
