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

type CourseStore struct {
	db *database.DB
}

func NewCourseStore(db *database.DB) *CourseStore {
	return &CourseStore{db: db}
}

func scanCourse(scanner interface{ Scan(...any) error }) (*model.Course, error) {
	var c model.Course
	err := scanner.Scan(&c.ID, &c.Title, &c.Description, &c.Price, &c.Published, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const courseCols = `id, title, description, price, published, created_at, updated_at`

func (s *CourseStore) Create(ctx context.Context, title, description string, price decimal.Decimal, published bool) (*model.Course, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO courses (id, title, description, price, published, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, title, description, price.StringFixed(2), published, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CourseStore) GetByID(ctx context.Context, id string) (*model.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+courseCols+` FROM courses WHERE id = ?`, id)
	c, err := scanCourse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

// List returns courses ordered by title. Unpublished courses are included
// only when all is true.
func (s *CourseStore) List(ctx context.Context, all bool) ([]model.Course, error) {
	query := `SELECT ` + courseCols + ` FROM courses`
	var args []any
	if !all {
		query += ` WHERE published = ?`
		args = append(args, true)
	}
	query += ` ORDER BY title`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, *c)
	}
	return courses, rows.Err()
}

func (s *CourseStore) Update(ctx context.Context, id, title, description string, price decimal.Decimal, published bool) (*model.Course, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE courses SET title = ?, description = ?, price = ?, published = ?, updated_at = ? WHERE id = ?`,
		title, description, price.StringFixed(2), published, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}
