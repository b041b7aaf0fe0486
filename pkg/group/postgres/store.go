// Package postgres provides PostgreSQL storage for DriverGroup documents.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/printops/driver-config/pkg/group"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements group.Store using PostgreSQL. The document lives in a
// JSONB column; the version column mirrors the document version and
// guards the conditional write that makes Update linearizable per
// document.
type Store struct {
	db            *sql.DB
	maxRetries    uint64
	retryInterval time.Duration
	now           func() time.Time
}

// Config configures the PostgreSQL group store.
type Config struct {
	// MaxRetries bounds the retry attempts for transient connectivity
	// failures. Zero means the default.
	MaxRetries int

	// RetryInterval is the initial backoff interval. Zero means the
	// default.
	RetryInterval time.Duration
}

// New creates a new PostgreSQL group store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &Store{
		db:            db,
		maxRetries:    uint64(cfg.MaxRetries),
		retryInterval: cfg.RetryInterval,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new document with version 1 and empty history.
func (s *Store) Create(ctx context.Context, g *group.Group) (*group.Group, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	stored := g.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Version = 1
	stored.History = []group.HistoryEntry{}
	stored.UpdatedAt = s.now()

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshaling driver group: %w", err)
	}

	query, args, err := psq.Insert("driver_groups").
		Columns("id", "group_id", "doc", "version", "updated_at").
		Values(stored.ID, stored.GroupID, doc, stored.Version, stored.UpdatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, group.ErrDuplicateGroupID
		}
		return nil, fmt.Errorf("inserting driver group: %w", err)
	}

	return stored, nil
}

// Get returns the current document or group.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*group.Group, error) {
	query, args, err := psq.Select("id", "doc").
		From("driver_groups").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	var g *group.Group
	err = s.withRetry(ctx, func() error {
		var rowID string
		var doc []byte
		scanErr := s.db.QueryRowContext(ctx, query, args...).Scan(&rowID, &doc)
		if scanErr != nil {
			return scanErr
		}
		g, scanErr = decodeDoc(rowID, doc)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, group.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading driver group: %w", err)
	}
	return g, nil
}

// List returns all documents in creation order.
func (s *Store) List(ctx context.Context) ([]*group.Group, error) {
	query, args, err := psq.Select("id", "doc").
		From("driver_groups").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	var groups []*group.Group
	err = s.withRetry(ctx, func() error {
		rows, queryErr := s.db.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer func() { _ = rows.Close() }()

		groups = groups[:0]
		for rows.Next() {
			var rowID string
			var doc []byte
			if scanErr := rows.Scan(&rowID, &doc); scanErr != nil {
				return fmt.Errorf("scanning driver group row: %w", scanErr)
			}
			g, decodeErr := decodeDoc(rowID, doc)
			if decodeErr != nil {
				return decodeErr
			}
			groups = append(groups, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing driver groups: %w", err)
	}
	return groups, nil
}

// Update applies a patch on top of the current document. The write is
// guarded by the version read at the start of the critical section: a
// concurrent update that commits first leaves zero rows matching, and
// the caller gets group.ErrConflict instead of a silent overwrite.
func (s *Store) Update(ctx context.Context, id string, p group.Patch, changeReason string) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	next := group.NextVersion(current, p, changeReason, s.now())
	doc, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("marshaling driver group: %w", err)
	}

	query, args, err := psq.Update("driver_groups").
		Set("group_id", next.GroupID).
		Set("doc", doc).
		Set("version", next.Version).
		Set("updated_at", next.UpdatedAt).
		Where(sq.Eq{"id": id, "version": current.Version}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building update: %w", err)
	}

	var affected int64
	err = s.withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, group.ErrDuplicateGroupID
		}
		return 0, fmt.Errorf("updating driver group: %w", err)
	}

	if affected == 0 {
		// The row either vanished or moved past our version.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, group.ErrConflict
	}

	return next.Version, nil
}

// Delete removes the document and its history irrecoverably.
func (s *Store) Delete(ctx context.Context, id string) error {
	query, args, err := psq.Delete("driver_groups").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}

	var affected int64
	err = s.withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("deleting driver group: %w", err)
	}
	if affected == 0 {
		return group.ErrNotFound
	}
	return nil
}

// Ping reports store connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withRetry runs op, retrying transient connectivity failures with
// bounded exponential backoff. Validation, not-found, and conflict
// failures are permanent and surface on the first attempt.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval

	err := backoff.Retry(func() error {
		opErr := op()
		if opErr == nil {
			return nil
		}
		if isTransient(opErr) {
			return opErr
		}
		return backoff.Permanent(opErr)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))

	if err != nil && isTransient(err) {
		return &group.TransientError{Err: err}
	}
	return err
}

// isTransient reports whether err is a connectivity failure worth
// retrying. SQLSTATE class 08 covers connection exceptions.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}
	return false
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// decodeDoc unmarshals a stored document and pins its identifier to the
// row key.
func decodeDoc(id string, doc []byte) (*group.Group, error) {
	var g group.Group
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("unmarshaling driver group %s: %w", id, err)
	}
	g.ID = id
	if g.History == nil {
		g.History = []group.HistoryEntry{}
	}
	return &g, nil
}

// Verify interface compliance.
var _ group.Store = (*Store)(nil)
