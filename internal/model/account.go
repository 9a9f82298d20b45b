package model

import "time"

type Account struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	MustResetPassword bool      `json:"must_reset_password"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Profile struct {
	AccountID string    `json:"account_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	TaxID     string    `json:"tax_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Enrollment struct {
	AccountID    string     `json:"account_id"`
	CourseID     string     `json:"course_id"`
	EnrolledAt   time.Time  `json:"enrolled_at"`
	LastAccessed *time.Time `json:"last_accessed"`
}
