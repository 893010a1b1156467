package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertQueueStatus records a queue transition for gameID. The game_id unique
// key keeps at most one row per game, so a new request reuses the old row.
func (s *Store) UpsertQueueStatus(ctx context.Context, gameID int64, status QueueStatus, errMsg string) error {
	if gameID <= 0 {
		return fmt.Errorf("game id is required")
	}
	now := time.Now().UTC()
	var startedAt, completedAt sql.NullTime
	switch status {
	case QueueProcessing:
		startedAt = sql.NullTime{Time: now, Valid: true}
	case QueueCompleted, QueueFailed:
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	_, err := s.exec(ctx,
		`INSERT INTO translation_queue (game_id, status, requested_at, started_at, completed_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(game_id) DO UPDATE SET
			status=excluded.status,
			started_at=COALESCE(excluded.started_at, translation_queue.started_at),
			completed_at=excluded.completed_at,
			error_message=excluded.error_message`,
		gameID,
		string(status),
		now,
		startedAt,
		completedAt,
		nullString(errMsg),
	)
	return err
}

func (s *Store) GetQueueStatus(ctx context.Context, gameID int64) (QueueRecord, bool, error) {
	var r QueueRecord
	var status string
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	err := s.queryRow(ctx,
		`SELECT game_id, status, requested_at, started_at, completed_at, error_message
		 FROM translation_queue
		 WHERE game_id = ?`,
		gameID,
	).Scan(&r.GameID, &status, &r.RequestedAt, &startedAt, &completedAt, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueRecord{}, false, nil
		}
		return QueueRecord{}, false, err
	}
	r.Status = QueueStatus(status)
	r.StartedAt = startedAt.Time
	r.CompletedAt = completedAt.Time
	r.ErrorMessage = errMsg.String
	return r, true, nil
}
