// Package sqlitestore provides a single-file SQLite implementation of
// incident.Store for deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/linnemanlabs/medlog/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medlog/internal/incident/sqlitestore")

//go:embed migrations/*.sql
var migrations embed.FS

const table = "incidents"

var columns = []any{"id", "owner_id", "category", "description", "summary", "created_at", "updated_at"}

// Store persists incidents in a SQLite database file.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	now     func() time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between our own transactions
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		now:     time.Now,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores a new incident, stamping createdAt and updatedAt.
func (s *Store) Insert(ctx context.Context, inc *incident.Incident) (*incident.Incident, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Insert", "INSERT")
	defer span.End()

	out := inc.Clone()
	out.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	out.UpdatedAt = out.CreatedAt

	query, args, err := s.dialect.Insert(table).Prepared(true).Rows(goqu.Record{
		"id":          out.ID,
		"owner_id":    out.OwnerID,
		"category":    out.Category,
		"description": out.Description,
		"summary":     nullString(out.Summary),
		"created_at":  out.CreatedAt.UnixNano(),
		"updated_at":  out.UpdatedAt.UnixNano(),
	}).ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build insert: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isPrimaryKeyViolation(err) {
			return nil, fail(span, fmt.Errorf("insert %s: %w", inc.ID, incident.ErrDuplicateID))
		}
		return nil, fail(span, fmt.Errorf("insert incident: %w", err))
	}
	return out, nil
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Get", "SELECT")
	defer span.End()

	inc, err := s.get(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, true, nil
}

// Update writes only the columns set in p inside a transaction. An empty
// summary clears it.
func (s *Store) Update(ctx context.Context, id string, p incident.Patch) (*incident.Incident, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Update", "UPDATE")
	defer span.End()

	out, err := s.update(ctx, id, p)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, id string, p incident.Patch) (*incident.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.get(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update %s: %w", id, incident.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.Apply(cur)
	cur.UpdatedAt = incident.NextUpdatedAt(s.now(), cur.UpdatedAt)

	set := goqu.Record{"updated_at": cur.UpdatedAt.UnixNano()}
	if p.Category != nil {
		set["category"] = cur.Category
	}
	if p.Description != nil {
		set["description"] = cur.Description
	}
	if p.Summary != nil {
		set["summary"] = nullString(cur.Summary)
	}

	query, args, err := s.dialect.Update(table).Prepared(true).Set(set).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return cur, nil
}

// ListByOwner returns the owner's incidents, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "sqlitestore.ListByOwner", "SELECT")
	defer span.End()

	query, args, err := s.dialect.From(table).Prepared(true).
		Select(columns...).
		Where(goqu.Ex{"owner_id": ownerID}).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build select: %w", err))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	defer func() { _ = rows.Close() }()

	out := []*incident.Incident{}
	for rows.Next() {
		inc, err := scan(rows)
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

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// get returns sql.ErrNoRows unwrapped when the id is unknown.
func (s *Store) get(ctx context.Context, q queryer, id string) (*incident.Incident, error) {
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(columns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	inc, err := scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	return inc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*incident.Incident, error) {
	var (
		inc                  incident.Incident
		summary              sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&inc.ID, &inc.OwnerID, &inc.Category, &inc.Description, &summary, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	if summary.Valid {
		inc.Summary = &summary.String
	}
	inc.CreatedAt = time.Unix(0, createdAt).UTC()
	inc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &inc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isPrimaryKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// base code only when extended result codes are off
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
