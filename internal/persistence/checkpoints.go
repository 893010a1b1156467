package persistence

import (
	"context"
	"time"
)

func (s *Store) SaveChunkCheckpoint(ctx context.Context, cp ChunkCheckpoint) error {
	_, err := s.exec(ctx,
		`INSERT INTO rulebook_chunk_checkpoints (rulebook_id, chunk_index, source_hash, translated, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(rulebook_id, chunk_index) DO UPDATE SET
			source_hash=excluded.source_hash,
			translated=excluded.translated,
			updated_at=excluded.updated_at`,
		cp.RulebookID,
		cp.ChunkIndex,
		cp.SourceHash,
		cp.Translated,
		time.Now().UTC(),
	)
	return err
}

func (s *Store) LoadChunkCheckpoints(ctx context.Context, rulebookID int64) ([]ChunkCheckpoint, error) {
	rows, err := s.query(ctx,
		`SELECT rulebook_id, chunk_index, source_hash, translated, updated_at
		 FROM rulebook_chunk_checkpoints
		 WHERE rulebook_id = ?
		 ORDER BY chunk_index ASC`,
		rulebookID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ChunkCheckpoint, 0)
	for rows.Next() {
		var cp ChunkCheckpoint
		if err := rows.Scan(&cp.RulebookID, &cp.ChunkIndex, &cp.SourceHash, &cp.Translated, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) ClearChunkCheckpoints(ctx context.Context, rulebookID int64) error {
	_, err := s.exec(ctx, `DELETE FROM rulebook_chunk_checkpoints WHERE rulebook_id = ?`, rulebookID)
	return err
}
