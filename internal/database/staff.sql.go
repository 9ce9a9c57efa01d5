package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

const staffColumns = `id, code, name, role, pin_hash, is_active, created_at`

func scanStaff(row interface{ Scan(dest ...any) error }) (Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Role, &s.PinHash, &s.IsActive, &s.CreatedAt)
	return s, err
}

const getStaff = `-- name: GetStaff :one
SELECT ` + staffColumns + ` FROM staff WHERE id = $1
`

func (q *Queries) GetStaff(ctx context.Context, id uuid.UUID) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaff, id))
}

const getStaffByCode = `-- name: GetStaffByCode :one
SELECT ` + staffColumns + ` FROM staff WHERE code = $1 AND is_active = true
`

func (q *Queries) GetStaffByCode(ctx context.Context, code string) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaffByCode, code))
}

const createStaff = `-- name: CreateStaff :one
INSERT INTO staff (code, name, role, pin_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, pin_hash = EXCLUDED.pin_hash
RETURNING ` + staffColumns

type CreateStaffParams struct {
	Code    string
	Name    string
	Role    enum.Role
	PinHash string
}

// CreateStaff inserts a staff member or refreshes an existing one with the same code.
func (q *Queries) CreateStaff(ctx context.Context, arg CreateStaffParams) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, createStaff, arg.Code, arg.Name, arg.Role, arg.PinHash))
}
