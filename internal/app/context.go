// Package app wires a workspace into a ready engine for the CLI and server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tasktrack/internal/config"
	"tasktrack/internal/db"
	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/migrate"
	"tasktrack/internal/repo"
)

// Workspace is an opened, migrated workspace.
type Workspace struct {
	Dir    string
	Conn   *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	return w.Conn.Close()
}

// Open opens the workspace database, applies migrations and loads
// tasktrack.yml when present.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, Conn: conn, Config: cfg, Engine: engine.New(conn, cfg)}, nil
}

// ResolveProject picks the project to act on: the override when non-zero,
// otherwise the only project in the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override int64) (domain.Project, error) {
	if override != 0 {
		p, err := r.GetProject(ctx, override)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("project %d not found", override)
		}
		return p, err
	}
	p, err := r.SingleProject(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, fmt.Errorf("no project yet; create one with tt project create")
	}
	return p, err
}

// ResolveUser accepts a numeric user id or an email address.
func ResolveUser(ctx context.Context, r repo.Repo, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.User{}, fmt.Errorf("user required; pass --user or set TASKTRACK_USER")
	}
	var (
		u   domain.User
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		u, err = r.GetUser(ctx, id)
	} else {
		u, err = r.GetUserByEmail(ctx, ref)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, fmt.Errorf("user %q not found", ref)
	}
	return u, err
}
