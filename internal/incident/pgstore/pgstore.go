// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/linnemanlabs/medlog/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medlog/internal/incident/pgstore")

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New migrates the schema to the latest version and returns a ready Store.
// The pool is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const incidentColumns = `id, owner_id, category, description, summary, created_at, updated_at`

// Insert creates a new incident; the database stamps both timestamps.
func (s *Store) Insert(ctx context.Context, inc *incident.Incident) (*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	out := inc.Clone()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO incidents (id, owner_id, category, description, summary)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		inc.ID, inc.OwnerID, inc.Category, inc.Description, inc.Summary,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = fmt.Errorf("insert %s: %w", inc.ID, incident.ErrDuplicateID)
		} else {
			err = fmt.Errorf("insert incident: %w", err)
		}
		return nil, fail(span, err)
	}
	return out, nil
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, true, nil
}

// Update writes only the columns set in p. A NULL parameter keeps the
// stored value; an empty summary clears it. updated_at moves forward by at
// least one microsecond even if the clock has not.
func (s *Store) Update(ctx context.Context, id string, p incident.Patch) (*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()

	out, err := scanIncident(s.pool.QueryRow(ctx,
		`UPDATE incidents SET
			category    = COALESCE($2::text, category),
			description = COALESCE($3::text, description),
			summary     = CASE WHEN $4::text IS NULL THEN summary ELSE NULLIF($4::text, '') END,
			updated_at  = GREATEST(now(), updated_at + interval '1 microsecond')
		 WHERE id = $1
		 RETURNING `+incidentColumns,
		id, p.Category, p.Description, p.Summary,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fail(span, fmt.Errorf("update %s: %w", id, incident.ErrNotFound))
	}
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListByOwner returns the owner's incidents, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByOwner", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	out := []*incident.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate incidents: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// scanIncident scans one row. pgx.ErrNoRows is returned unwrapped.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var inc incident.Incident
	err := row.Scan(&inc.ID, &inc.OwnerID, &inc.Category, &inc.Description, &inc.Summary, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	return &inc, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
