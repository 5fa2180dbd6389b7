package auth

import (
	"context"
	"database/sql"
	"errors"
)

type Member struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	IsDisabled   bool
	CreatedAt    string
}

type MemberStore interface {
	GetByID(ctx context.Context, id string) (*Member, error)
	Create(ctx context.Context, m *Member) error
	List(ctx context.Context) ([]Member, error)
	Delete(ctx context.Context, id string) (int64, error)
	UpdateID(ctx context.Context, oldID, newID string) (int64, error)
	CountActiveLoans(ctx context.Context, memberID string) (int, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) MemberStore {
	return &Store{db: db}
}

func (s *Store) GetByID(ctx context.Context, id string) (*Member, error) {
	const q = `
SELECT id, name, email, password_hash, role, is_disabled, created_at
FROM users
WHERE id = ?
LIMIT 1
`
	var m Member
	var isDisabledInt int
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&m.ID,
		&m.Name,
		&m.Email,
		&m.PasswordHash,
		&m.Role,
		&isDisabledInt,
		&m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if isDisabledInt != 0 {
		m.IsDisabled = true
	}
	return &m, nil
}

func (s *Store) Create(ctx context.Context, m *Member) error {
	const q = `
INSERT INTO users (id, name, email, password_hash, role, is_disabled, created_at)
VALUES (?, ?, ?, ?, ?, 0, NOW(6))
`
	_, err := s.db.ExecContext(ctx, q, m.ID, m.Name, m.Email, m.PasswordHash, m.Role)
	return err
}

func (s *Store) List(ctx context.Context) ([]Member, error) {
	const q = `
SELECT id, name, email, role, is_disabled, created_at
FROM users
ORDER BY name
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var isDisabledInt int
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &isDisabledInt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsDisabled = isDisabledInt != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	const q = `DELETE FROM users WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) UpdateID(ctx context.Context, oldID, newID string) (int64, error) {
	// PK変更なので競合を避けたければトランザクションでもOK
	const q = `UPDATE users SET id = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, newID, oldID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CountActiveLoans: 退会可否の判定用。貸出中の冊があるうちは消せない。
func (s *Store) CountActiveLoans(ctx context.Context, memberID string) (int, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE user_id = ? AND status = 'borrowed'`
	var n int
	if err := s.db.QueryRowContext(ctx, q, memberID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
