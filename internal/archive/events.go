package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// WriteEvents inserts a batch of evicted events in one transaction.
// Uses ON CONFLICT(id) DO NOTHING so re-archiving after a crash or a
// window reload is idempotent.
func (s *Store) WriteEvents(ctx context.Context, events []eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive events: begin tx: %v: %w", err, ErrArchiveUnavailable)
	}
	defer tx.Rollback() // no-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(id, seq, subject, action, object, domain, instant, granularity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("archive events: prepare: %v: %w", err, ErrArchiveUnavailable)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Seq, e.Subject, e.Action,
			fact.Render(e.Object), e.Domain,
			e.Time.Instant, int(e.Time.Granularity),
		); err != nil {
			return fmt.Errorf("archive event %s: %v: %w", e.ID, err, ErrArchiveUnavailable)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive events: commit: %v: %w", err, ErrArchiveUnavailable)
	}
	return nil
}

// EventsForSubject returns the archived events for a subject ordered by
// (instant, seq). A nil until returns the subject's full archived
// history; otherwise events at or before until are returned, widened to
// the end of until's granularity bucket so coarse events are not missed.
func (s *Store) EventsForSubject(ctx context.Context, subject string, until *temporal.TimePoint) ([]eventlog.Event, error) {
	query := `
		SELECT id, seq, subject, action, object, domain, instant, granularity
		FROM events
		WHERE subject = ?
		ORDER BY instant ASC, seq ASC
	`
	args := []any{subject}
	if until != nil {
		// Conservative bound: everything recorded before the end of
		// until's granularity bucket. A coarser event inside the bucket
		// fuzzy-compares at-or-before until; the resolver re-checks.
		query = `
			SELECT id, seq, subject, action, object, domain, instant, granularity
			FROM events
			WHERE subject = ? AND instant < ?
			ORDER BY instant ASC, seq ASC
		`
		args = append(args, until.Next().Instant)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subject %s: %v: %w", subject, err, ErrArchiveUnavailable)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsForDomain returns the archived events whose stored domain
// matches, ordered by (instant, seq). Events bound to the domain only
// through rules registered after archival are not found this way;
// domain-wide queries resolve per subject.
func (s *Store) EventsForDomain(ctx context.Context, domain string) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, subject, action, object, domain, instant, granularity
		FROM events
		WHERE domain = ?
		ORDER BY instant ASC, seq ASC
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("query domain %s: %v: %w", domain, err, ErrArchiveUnavailable)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AllEvents returns every archived event ordered by (instant, seq).
// Used by export.
func (s *Store) AllEvents(ctx context.Context) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, subject, action, object, domain, instant, granularity
		FROM events
		ORDER BY instant ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all events: %v: %w", err, ErrArchiveUnavailable)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MaxSeq returns the highest archived sequence number, or 0 when empty.
// Used to resume the log clock past archived history.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %v: %w", err, ErrArchiveUnavailable)
	}
	return seq.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]eventlog.Event, error) {
	var events []eventlog.Event
	for rows.Next() {
		var (
			e      eventlog.Event
			object string
			gran   int
		)
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Subject, &e.Action,
			&object, &e.Domain, &e.Time.Instant, &gran,
		); err != nil {
			return nil, fmt.Errorf("scan event: %v: %w", err, ErrArchiveUnavailable)
		}
		e.Time.Granularity = temporal.Granularity(gran)

		v, err := fact.ParseLiteral(object)
		if err != nil {
			// A corrupt stored literal is an archive failure, not a
			// caller input error.
			return nil, fmt.Errorf("scan event %s object: %v: %w", e.ID, err, ErrArchiveUnavailable)
		}
		e.Object = v
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %v: %w", err, ErrArchiveUnavailable)
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []eventlog.Event{}
	}
	return events, nil
}
