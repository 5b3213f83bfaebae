package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
)

func (r Repo) InsertContractor(ctx context.Context, c domain.Contractor) error {
	skills, err := marshalSkills(c.Skills)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO contractors(id,name,email,phone,skills_json,active,trust_tier,verified,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Email, nullable(c.Phone), skills, boolInt(c.Active), nullableIntPtr(c.TrustTier), boolInt(c.Verified), c.CreatedAt)
	return err
}

func (r Repo) GetContractor(ctx context.Context, id string) (domain.Contractor, error) {
	return scanContractor(r.DB.QueryRowContext(ctx, `SELECT id,name,email,phone,skills_json,active,trust_tier,verified,created_at FROM contractors WHERE id=?`, id))
}

func (r Repo) GetContractorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contractor, error) {
	return scanContractor(tx.QueryRowContext(ctx, `SELECT id,name,email,phone,skills_json,active,trust_tier,verified,created_at FROM contractors WHERE id=?`, id))
}

func (r Repo) ListContractors(ctx context.Context, activeOnly bool) ([]domain.Contractor, error) {
	query := `SELECT id,name,email,phone,skills_json,active,trust_tier,verified,created_at FROM contractors`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contractor
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SetContractorActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE contractors SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanContractor(row caseScanner) (domain.Contractor, error) {
	var c domain.Contractor
	var phone, skills sql.NullString
	var active, verified int
	var tier sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Email, &phone, &skills, &active, &tier, &verified, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	if skills.Valid && skills.String != "" {
		_ = json.Unmarshal([]byte(skills.String), &c.Skills)
	}
	if tier.Valid {
		t := int(tier.Int64)
		c.TrustTier = &t
	}
	c.Active = active != 0
	c.Verified = verified != 0
	return c, nil
}

func marshalSkills(skills []string) (any, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(skills)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
