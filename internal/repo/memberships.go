package repo

import (
	"context"
	"database/sql"

	"tasktrack/internal/domain"
)

const membershipColumns = `m.project_id,m.user_id,m.role,m.is_owner,m.joined_at,u.id,u.email,COALESCE(u.name,''),u.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.IsOwner, &m.JoinedAt,
		&m.Member.ID, &m.Member.Email, &m.Member.Name, &m.Member.CreatedAt)
	return m, err
}

// AddMembership inserts the (project, user) row; re-adding an existing member
// updates the role.
func (r Repo) AddMembership(ctx context.Context, projectID, userID int64, role string) error {
	if role == "" {
		role = domain.RoleMember
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO memberships(project_id,user_id,role,is_owner,joined_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role, is_owner=excluded.is_owner`,
		projectID, userID, role, role == domain.RoleOwner, now())
	return err
}

func (r Repo) RemoveMembership(ctx context.Context, projectID, userID int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM memberships WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMembership returns the membership with its member user loaded.
func (r Repo) FindMembership(ctx context.Context, projectID, userID int64) (domain.Membership, error) {
	m, err := scanMembership(r.q().QueryRowContext(ctx, `SELECT `+membershipColumns+`
FROM memberships m JOIN users u ON u.id=m.user_id
WHERE m.project_id=? AND m.user_id=?`, projectID, userID))
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, projectID int64) ([]domain.Membership, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+membershipColumns+`
FROM memberships m JOIN users u ON u.id=m.user_id
WHERE m.project_id=? ORDER BY m.joined_at, m.user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountOwners(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM memberships WHERE project_id=? AND is_owner=1`, projectID).Scan(&n)
	return n, err
}
