package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
)

// pgUndefinedColumn is raised by replicas whose schema predates the archived column
const pgUndefinedColumn = "42703"

// Postgres stores turns in a single conversation_turns table. The archived
// column is nullable; NULL counts as not archived.
type Postgres struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
}

var _ Repository = (*Postgres)(nil)

type PostgresOption func(*Postgres)

func WithPostgresMetrics(metrics *observability.Metrics) PostgresOption {
	return func(p *Postgres) {
		p.metrics = metrics
	}
}

func NewPostgres(ctx context.Context, databaseURL string, opts ...PostgresOption) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect postgres")
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	p := &Postgres{pool: pool}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);`,
		`ALTER TABLE conversation_turns ADD COLUMN IF NOT EXISTS archived BOOLEAN;`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_created ON conversation_turns (user_id, created_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to init schema", goerr.V("stmt", stmt))
		}
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Append(ctx context.Context, userID model.UserID, turn *model.Turn) (model.TurnID, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if err := validateTurn(turn); err != nil {
		return "", err
	}

	id := turn.ID
	if id == "" {
		id = model.NewTurnID()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, role, content, archived)
		 VALUES ($1, $2, $3, $4, FALSE)`,
		string(id), string(userID), string(turn.Role), turn.Content,
	)
	if err != nil {
		return "", goerr.Wrap(ErrStoreWrite, "failed to insert turn",
			goerr.V("user_id", userID),
			goerr.V("turn_id", id),
			goerr.V("cause", err.Error()),
		)
	}
	return id, nil
}

func (p *Postgres) ReadVisible(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	return withFallback(ctx, p.metrics, "read_visible",
		func(ctx context.Context) ([]*model.Turn, error) {
			return p.query(ctx, userID,
				`SELECT id, role, content, created_at, COALESCE(archived, FALSE)
				 FROM conversation_turns
				 WHERE user_id = $1 AND archived IS NOT TRUE
				 ORDER BY created_at ASC, seq ASC`)
		},
		func(ctx context.Context) ([]*model.Turn, error) {
			all, err := p.ReadAll(ctx, userID)
			if err != nil {
				return nil, err
			}
			return filterVisible(all), nil
		},
	)
}

func (p *Postgres) ReadAll(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	// to_jsonb tolerates a schema without the archived column
	turns, err := p.query(ctx, userID,
		`SELECT id, role, content, created_at, COALESCE((to_jsonb(t)->>'archived')::boolean, FALSE)
		 FROM conversation_turns t
		 WHERE user_id = $1
		 ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read turns", goerr.V("user_id", userID))
	}
	return turns, nil
}

func (p *Postgres) ArchiveAll(ctx context.Context, userID model.UserID) (int, error) {
	if err := validateUserID(userID); err != nil {
		return 0, err
	}
	// one statement: rows committed after its snapshot are not touched
	tag, err := p.pool.Exec(ctx,
		`UPDATE conversation_turns SET archived = TRUE
		 WHERE user_id = $1 AND archived IS NOT TRUE`,
		string(userID),
	)
	if err != nil {
		return 0, goerr.Wrap(ErrStoreWrite, "failed to archive turns",
			goerr.V("user_id", userID),
			goerr.V("cause", err.Error()),
		)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) HasVisibleHistory(ctx context.Context, userID model.UserID) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	return withFallback(ctx, p.metrics, "has_visible",
		func(ctx context.Context) (bool, error) {
			var exists bool
			err := p.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM conversation_turns WHERE user_id = $1 AND archived IS NOT TRUE)`,
				string(userID),
			).Scan(&exists)
			if err != nil {
				return false, classifyPgError(err, "failed to check visible turns", userID)
			}
			return exists, nil
		},
		func(ctx context.Context) (bool, error) {
			all, err := p.ReadAll(ctx, userID)
			if err != nil {
				return false, err
			}
			return len(filterVisible(all)) > 0, nil
		},
	)
}

func (p *Postgres) query(ctx context.Context, userID model.UserID, sql string) ([]*model.Turn, error) {
	rows, err := p.pool.Query(ctx, sql, string(userID))
	if err != nil {
		return nil, classifyPgError(err, "failed to query turns", userID)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Turn, error) {
		var (
			t        model.Turn
			id, role string
		)
		if err := row.Scan(&id, &role, &t.Content, &t.CreatedAt, &t.Archived); err != nil {
			return nil, err
		}
		t.ID = model.TurnID(id)
		t.Role = model.Role(role)
		return &t, nil
	})
	if err != nil {
		return nil, classifyPgError(err, "failed to scan turns", userID)
	}
	return turns, nil
}

func classifyPgError(err error, msg string, userID model.UserID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn {
		return goerr.Wrap(ErrIndexUnavailable, msg,
			goerr.V("user_id", userID),
			goerr.V("reason", "schema_without_archived"),
			goerr.V("cause", err.Error()),
		)
	}
	return goerr.Wrap(err, msg, goerr.V("user_id", userID))
}
