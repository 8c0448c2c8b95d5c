package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"audiorouter/internal/reconcile"
)

// PassRecord is one row of pass history.
type PassRecord struct {
	ID                int64                           `json:"id"`
	PassID            string                          `json:"pass_id"`
	Reason            string                          `json:"reason"`
	StartedAt         time.Time                       `json:"started_at"`
	Duration          time.Duration                   `json:"duration"`
	SinksCreated      int                             `json:"sinks_created"`
	SinksRemoved      int                             `json:"sinks_removed"`
	AttributesChanged int                             `json:"attributes_changed"`
	RoutesChanged     int                             `json:"routes_changed"`
	StreamsMoved      int                             `json:"streams_moved"`
	Unresolved        []reconcile.UnresolvedReference `json:"unresolved,omitempty"`
	Rejected          []reconcile.CommandFailure      `json:"rejected,omitempty"`
	Error             string                          `json:"error,omitempty"`
}

// Failed reports whether the pass aborted.
func (r PassRecord) Failed() bool {
	return r.Error != ""
}

func marshalList[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// RecordPass appends a pass summary and prunes history beyond the configured
// limit. passErr is the error Apply returned, if any.
func (s *Store) RecordPass(ctx context.Context, result reconcile.Result, passErr error) error {
	ctx = ensureContext(ctx)
	unresolved, err := marshalList(result.Unresolved)
	if err != nil {
		return fmt.Errorf("encode unresolved: %w", err)
	}
	rejected, err := marshalList(result.Rejected)
	if err != nil {
		return fmt.Errorf("encode rejected: %w", err)
	}
	errMsg := ""
	if passErr != nil {
		errMsg = passErr.Error()
	}

	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO pass_history (
                pass_id, reason, started_at, duration_ms,
                sinks_created, sinks_removed, attributes_changed, routes_changed, streams_moved,
                unresolved_json, rejected_json, error_message
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.PassID,
			result.Reason,
			result.StartedAt.UTC().Format(time.RFC3339Nano),
			result.Duration.Milliseconds(),
			result.SinksCreated,
			result.SinksRemoved,
			result.AttributesChanged,
			result.RoutesChanged,
			result.StreamsMoved,
			unresolved,
			rejected,
			nullableString(errMsg),
		)
		return err
	}); err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return s.pruneHistory(ctx)
}

func (s *Store) pruneHistory(ctx context.Context) error {
	if s.historyLimit <= 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM pass_history WHERE id NOT IN (
                SELECT id FROM pass_history ORDER BY id DESC LIMIT ?
            )`, s.historyLimit)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		return nil
	})
}

// RecentPasses returns up to limit passes, newest first.
func (s *Store) RecentPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, pass_id, reason, started_at, duration_ms,
                sinks_created, sinks_removed, attributes_changed, routes_changed, streams_moved,
                unresolved_json, rejected_json, error_message
         FROM pass_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		var (
			rec                           PassRecord
			startedAt                     string
			durationMS                    int64
			unresolved, rejected, errText sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.PassID, &rec.Reason, &startedAt, &durationMS,
			&rec.SinksCreated, &rec.SinksRemoved, &rec.AttributesChanged, &rec.RoutesChanged, &rec.StreamsMoved,
			&unresolved, &rejected, &errText,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			rec.StartedAt = ts
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errText.String
		if unresolved.Valid {
			if err := json.Unmarshal([]byte(unresolved.String), &rec.Unresolved); err != nil {
				return nil, fmt.Errorf("decode unresolved for pass %s: %w", rec.PassID, err)
			}
		}
		if rejected.Valid {
			if err := json.Unmarshal([]byte(rejected.String), &rec.Rejected); err != nil {
				return nil, fmt.Errorf("decode rejected for pass %s: %w", rec.PassID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}
