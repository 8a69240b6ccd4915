package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/strandlab/strand/internal/engine"
)

// snapshotEncMode mirrors the IR codec's deterministic settings so two
// snapshots of the same engine moment are byte-identical.
var snapshotEncMode cbor.EncMode

func init() {
	var err error
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot cbor enc mode: %v", err))
	}
}

// SaveSnapshot persists an engine snapshot. One snapshot per
// (compile_id, frame); saving the same frame again replaces it, which is
// what a periodic checkpointer wants.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	data, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state_snapshots (compile_id, frame, model_ms, snapshot)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(compile_id, frame) DO UPDATE SET
		   model_ms = excluded.model_ms,
		   snapshot = excluded.snapshot`,
		snap.CompileID, snap.Frame, snap.ModelMs, data)
	if err != nil {
		return fmt.Errorf("save snapshot %s@%d: %w", snap.CompileID, snap.Frame, err)
	}
	return nil
}

// LoadSnapshot fetches the snapshot at an exact frame.
func (s *Store) LoadSnapshot(ctx context.Context, compileID string, frame int64) (engine.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM state_snapshots
		 WHERE compile_id = ? AND frame = ?`, compileID, frame,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Snapshot{}, fmt.Errorf("snapshot %s@%d: %w", compileID, frame, ErrNotFound)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("snapshot %s@%d: %w", compileID, frame, err)
	}
	return decodeSnapshot(data)
}

// LatestSnapshot fetches the newest snapshot for a compile.
func (s *Store) LatestSnapshot(ctx context.Context, compileID string) (engine.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM state_snapshots
		 WHERE compile_id = ?
		 ORDER BY frame DESC
		 LIMIT 1`, compileID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Snapshot{}, fmt.Errorf("latest snapshot for %s: %w", compileID, ErrNotFound)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("latest snapshot for %s: %w", compileID, err)
	}
	return decodeSnapshot(data)
}

// SnapshotFrames lists the checkpointed frames for a compile, ascending.
func (s *Store) SnapshotFrames(ctx context.Context, compileID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT frame FROM state_snapshots
		 WHERE compile_id = ?
		 ORDER BY frame ASC`, compileID)
	if err != nil {
		return nil, fmt.Errorf("snapshot frames for %s: %w", compileID, err)
	}
	defer rows.Close()

	var frames []int64
	for rows.Next() {
		var f int64
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("snapshot frames for %s: %w", compileID, err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func decodeSnapshot(data []byte) (engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
