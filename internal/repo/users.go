package repo

import (
	"context"
	"database/sql"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,role,name,email,password_hash,contractor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Role, u.Name, u.Email, u.PasswordHash, nullableStringPtr(u.ContractorID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,role,name,email,password_hash,contractor_id,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,role,name,email,password_hash,contractor_id,created_at FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role,name,email,password_hash,contractor_id,created_at FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row caseScanner) (domain.User, error) {
	var u domain.User
	var contractorID sql.NullString
	err := row.Scan(&u.ID, &u.Role, &u.Name, &u.Email, &u.PasswordHash, &contractorID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if contractorID.Valid {
		u.ContractorID = &contractorID.String
	}
	return u, nil
}
