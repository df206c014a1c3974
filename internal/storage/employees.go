package storage

import (
	"context"
	"fmt"

	"crm-automation/internal/models"
)

// EmployeeInfo returns the signature block of the employee owning the given
// mailbox, or nil when the mailbox is unknown.
func (s *Store) EmployeeInfo(ctx context.Context, email string) (*models.Employee, error) {
	const query = `
		SELECT emp_name, emp_second_name, phone, extra_field, post
		FROM employees
		WHERE email = $1`

	var e models.Employee
	if err := s.db.GetContext(ctx, &e, query, email); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("employee info %s: %w", email, err)
	}
	return &e, nil
}

// EncryptedCredential is a mailbox login with its fernet-encrypted password.
type EncryptedCredential struct {
	Email    string `db:"email"`
	Password string `db:"pass_email"`
}

// ActiveEmployeeCredentials lists active mailboxes with stored passwords.
func (s *Store) ActiveEmployeeCredentials(ctx context.Context) ([]EncryptedCredential, error) {
	const query = `
		SELECT email, pass_email FROM employees
		WHERE is_active = true AND pass_email IS NOT NULL`

	var creds []EncryptedCredential
	if err := s.db.SelectContext(ctx, &creds, query); err != nil {
		return nil, fmt.Errorf("employee credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no active employee credentials")
	}
	return creds, nil
}

// InsertEmployees stores encrypted mailbox credentials for new employees.
func (s *Store) InsertEmployees(ctx context.Context, creds []EncryptedCredential) error {
	const query = `
		INSERT INTO employees (email, pass_email, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (email) DO UPDATE SET pass_email = EXCLUDED.pass_email`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin employees tx: %w", err)
	}
	defer tx.Rollback()

	for _, c := range creds {
		if _, err := tx.ExecContext(ctx, query, c.Email, c.Password); err != nil {
			return fmt.Errorf("insert employee %s: %w", c.Email, err)
		}
	}
	return tx.Commit()
}
