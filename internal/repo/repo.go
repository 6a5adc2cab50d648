package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasktrack/internal/domain"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the SQL persistence layer. A Repo returned by WithTx runs every
// statement inside that transaction.
type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

var ErrNotFound = errors.New("not found")

// WithTx returns a view of the repo bound to tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, tx: tx}
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.Email) == "" {
		return u, errors.New("email required")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = now()
	}
	res, err := r.q().ExecContext(ctx, `INSERT INTO users(email,name,created_at) VALUES (?,?,?)`,
		strings.TrimSpace(u.Email), nullable(u.Name), u.CreatedAt)
	if err != nil {
		return u, fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := r.q().QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.q().QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),created_at FROM users WHERE email=?`, strings.TrimSpace(email)).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// FindUsersByIDs returns the users that exist among ids. Missing ids are
// simply absent from the result.
func (r Repo) FindUsersByIDs(ctx context.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.q().QueryContext(ctx, `SELECT id,email,COALESCE(name,''),created_at FROM users WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if p.CreatedAt == "" {
		p.CreatedAt = now()
	}
	if !p.AccessLevel.Valid() {
		p.AccessLevel = domain.AccessRed
	}
	res, err := r.q().ExecContext(ctx, `INSERT INTO projects(title,access_level,created_at) VALUES (?,?,?)`,
		p.Title, int(p.AccessLevel), p.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var level int
	err := row.Scan(&p.ID, &p.Title, &level, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.AccessLevel = domain.AccessLevel(level)
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return scanProject(r.q().QueryRowContext(ctx, `SELECT id,title,access_level,created_at FROM projects WHERE id=?`, id))
}

// SingleProject returns the only project, or an error when there are none or several.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, 0)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ListProjects lists every project, or only those userID belongs to when it is non-zero.
func (r Repo) ListProjects(ctx context.Context, userID int64) ([]domain.Project, error) {
	query := `SELECT p.id,p.title,p.access_level,p.created_at FROM projects p`
	var args []any
	if userID != 0 {
		query += ` JOIN memberships m ON m.project_id=p.id WHERE m.user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY p.id`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var level int
		if err := rows.Scan(&p.ID, &p.Title, &level, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.AccessLevel = domain.AccessLevel(level)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id int64, title *string, level *domain.AccessLevel) error {
	var (
		fields []string
		args   []any
	)
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if level != nil {
		fields = append(fields, "access_level=?")
		args = append(args, int(*level))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.q().ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
