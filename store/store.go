package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/lib/pq"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
)

const (
	minIdleConns = 2
	maxOpenConns = 10
)

// Store is the Postgres adapter. It owns a bounded connection pool whose
// lifecycle is tied to process start and stop.
type Store struct {
	db             *sql.DB
	defaultSpeaker string
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultSpeaker sets the speaker attributed to chunks that have no
// owning turn.
func WithDefaultSpeaker(speaker string) Option {
	return func(s *Store) {
		if speaker != "" {
			s.defaultSpeaker = speaker
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to Postgres and configures the pool bounds.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", apperrors.ErrStoreUnavailable, err)
	}
	db.SetMaxIdleConns(minIdleConns)
	db.SetMaxOpenConns(maxOpenConns)

	s := &Store{
		db:             db,
		defaultSpeaker: "Unknown",
		logger:         logging.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps driver-level failures onto the service error taxonomy.
// Postgres error classes: 08 connection, 53 insufficient resources, 57
// operator intervention, 42 syntax/access, 22 data exception, 23 integrity.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, pqErr.Message)
		case "23":
			return fmt.Errorf("%w: %s", apperrors.ErrConstraintViolation, pqErr.Message)
		case "22", "42":
			return fmt.Errorf("%w: %s", apperrors.ErrBadQuery, pqErr.Message)
		}
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrStoreUnavailable, pqErr.Message, pqErr.Code)
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}

// vectorLiteral renders a pgvector input literal: [0.1,0.2,...].
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// filterClauses appends WHERE fragments and bind arguments for the optional
// retrieval filters. speakerExpr is the SQL expression yielding the chunk's
// inherited speaker. All values go through parameter binding.
func filterClauses(f *Filters, speakerExpr string, args *[]any) []string {
	if f.IsZero() {
		return nil
	}
	var clauses []string
	bind := func(v any) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}
	if f.Source != "" {
		clauses = append(clauses, "d.source = "+bind(f.Source))
	}
	if f.DocType != "" {
		clauses = append(clauses, "d.doc_type = "+bind(f.DocType))
	}
	if f.StartDate != nil {
		clauses = append(clauses, "d.published_at >= "+bind(*f.StartDate))
	}
	if f.EndDate != nil {
		clauses = append(clauses, "d.published_at < "+bind(*f.EndDate))
	}
	if f.Speaker != "" {
		clauses = append(clauses, speakerExpr+" ILIKE '%' || "+bind(f.Speaker)+" || '%'")
	}
	return clauses
}
