package postgres

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kisscloud/nest/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TeamRepository        = (*Repository)(nil)
	_ repository.MemberRepository      = (*Repository)(nil)
	_ repository.GroupRepository       = (*Repository)(nil)
	_ repository.ProjectRepository     = (*Repository)(nil)
	_ repository.ProjectRepoRepository = (*Repository)(nil)
	_ repository.JobRepository         = (*Repository)(nil)
	_ repository.BuildLogRepository    = (*Repository)(nil)
	_ repository.DeployLogRepository   = (*Repository)(nil)
	_ repository.ServerRepository      = (*Repository)(nil)
	_ repository.AuditRepository       = (*Repository)(nil)
)

// mapWriteError translates constraint violations into repository sentinels.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func int64PtrToNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
