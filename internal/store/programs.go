package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// ErrNotFound is returned when a program or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// ProgramMeta is one archive row without the program bytes.
type ProgramMeta struct {
	CompileID     string
	PatchID       string
	PatchRevision string
	IRVersion     string
	Seed          int64
	CreatedAt     string
}

// SaveProgram archives a compiled program. Writing the same compile_id
// twice is a no-op when the bytes match and an error when they differ;
// a compile_id names exactly one artifact forever.
func (s *Store) SaveProgram(ctx context.Context, p *ir.CompiledProgram) error {
	data, err := ir.EncodeCBOR(p)
	if err != nil {
		return err
	}

	var existing []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT program FROM programs WHERE compile_id = ?`, p.CompileID,
	).Scan(&existing)
	switch {
	case err == nil:
		if string(existing) != string(data) {
			return fmt.Errorf("save program %s: compile id already archived with different bytes", p.CompileID)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("save program %s: %w", p.CompileID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (compile_id, patch_id, patch_revision, ir_version, seed, program)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.CompileID, p.PatchID, p.PatchRevision, p.IRVersion, p.Seed, data)
	if err != nil {
		return fmt.Errorf("save program %s: %w", p.CompileID, err)
	}
	return nil
}

// LoadProgram fetches an archived program by compile id.
func (s *Store) LoadProgram(ctx context.Context, compileID string) (*ir.CompiledProgram, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT program FROM programs WHERE compile_id = ?`, compileID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load program %s: %w", compileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", compileID, err)
	}
	return ir.DecodeCBOR(data)
}

// ListPrograms returns archive metadata for a patch, newest compile
// first, compile_id breaking created_at ties.
func (s *Store) ListPrograms(ctx context.Context, patchID string) ([]ProgramMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT compile_id, patch_id, patch_revision, ir_version, seed, created_at
		 FROM programs
		 WHERE patch_id = ?
		 ORDER BY created_at DESC, compile_id DESC`, patchID)
	if err != nil {
		return nil, fmt.Errorf("list programs for %s: %w", patchID, err)
	}
	defer rows.Close()

	var out []ProgramMeta
	for rows.Next() {
		var m ProgramMeta
		if err := rows.Scan(&m.CompileID, &m.PatchID, &m.PatchRevision, &m.IRVersion, &m.Seed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("list programs for %s: %w", patchID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestProgram returns the newest archived program for a patch.
func (s *Store) LatestProgram(ctx context.Context, patchID string) (*ir.CompiledProgram, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT program FROM programs
		 WHERE patch_id = ?
		 ORDER BY created_at DESC, compile_id DESC
		 LIMIT 1`, patchID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest program for %s: %w", patchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest program for %s: %w", patchID, err)
	}
	return ir.DecodeCBOR(data)
}
