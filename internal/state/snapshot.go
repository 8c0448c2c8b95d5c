package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"audiorouter/internal/reconcile"
)

// SaveAppliedSnapshot replaces the stored bus snapshot with buses.
func (s *Store) SaveAppliedSnapshot(ctx context.Context, buses []reconcile.BusState) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM bus_snapshot"); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		for _, bus := range buses {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bus_snapshot (bus_key, name, routed_to, volume, mute, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				bus.Key, bus.Name, nullableString(bus.RoutedTo), bus.Volume, boolToInt(bus.Mute), now,
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", bus.Key, err)
			}
		}
		return tx.Commit()
	})
}

// LoadSnapshot returns the stored bus snapshot ordered by key. An empty
// slice means nothing has been applied yet.
func (s *Store) LoadSnapshot(ctx context.Context) ([]reconcile.BusState, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT bus_key, name, routed_to, volume, mute FROM bus_snapshot ORDER BY bus_key`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var buses []reconcile.BusState
	for rows.Next() {
		var (
			bus      reconcile.BusState
			routedTo sql.NullString
			mute     int
		)
		if err := rows.Scan(&bus.Key, &bus.Name, &routedTo, &bus.Volume, &mute); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		bus.RoutedTo = routedTo.String
		bus.Mute = mute != 0
		buses = append(buses, bus)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return buses, nil
}
