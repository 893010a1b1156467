package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ListStuck returns rulebook and queue rows that entered processing before
// the given instant and never left it.
func (s *Store) ListStuck(ctx context.Context, before time.Time) ([]StuckRow, error) {
	ret := make([]StuckRow, 0)

	rows, err := s.query(ctx,
		`SELECT id, game_id, updated_at FROM rulebooks
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC`,
		string(RulebookProcessing), before.UTC())
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r := StuckRow{Table: "rulebooks"}
		if err := rows.Scan(&r.ID, &r.GameID, &r.Since); err != nil {
			rows.Close()
			return nil, err
		}
		ret = append(ret, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.query(ctx,
		`SELECT game_id, started_at FROM translation_queue
		 WHERE status = ? AND started_at < ?
		 ORDER BY started_at ASC`,
		string(QueueProcessing), before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r := StuckRow{Table: "translation_queue"}
		if err := rows.Scan(&r.GameID, &r.Since); err != nil {
			return nil, err
		}
		r.ID = r.GameID
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// ResetStuck returns rows to pending (rulebooks) and queued (queue rows) so a
// later run reprocesses them. Without Force only processing rows move.
func (s *Store) ResetStuck(ctx context.Context, opts ResetOptions) (ResetResult, error) {
	if opts.Force && opts.GameID <= 0 {
		return ResetResult{}, fmt.Errorf("force reset requires a game id")
	}

	rbStatuses := []string{string(RulebookProcessing)}
	qStatuses := []string{string(QueueProcessing)}
	if opts.IncludeFailed {
		rbStatuses = append(rbStatuses, string(RulebookFailed))
		qStatuses = append(qStatuses, string(QueueFailed))
	}

	now := time.Now().UTC()
	var result ResetResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		where, args := resetFilter(opts, "status", rbStatuses, "updated_at")
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE rulebooks SET status = ?, error_message = NULL, updated_at = ?`+where),
			append([]any{string(RulebookPending), now}, args...)...)
		if err != nil {
			return err
		}
		if result.Rulebooks, err = res.RowsAffected(); err != nil {
			return err
		}

		where, args = resetFilter(opts, "status", qStatuses, "started_at")
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE translation_queue SET status = ?, completed_at = NULL, error_message = NULL`+where),
			append([]any{string(QueueQueued)}, args...)...)
		if err != nil {
			return err
		}
		if result.QueueRows, err = res.RowsAffected(); err != nil {
			return err
		}

		if !opts.Force {
			return nil
		}
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE game_translations SET status = ?, error_message = NULL, completed_at = NULL WHERE game_id = ?`),
			string(TranslationPending), opts.GameID)
		if err != nil {
			return err
		}
		result.Translations, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return ResetResult{}, err
	}
	return result, nil
}

func resetFilter(opts ResetOptions, statusCol string, statuses []string, timeCol string) (string, []any) {
	var where []string
	var args []any
	if !opts.Force {
		where = append(where, fmt.Sprintf("%s IN (%s)", statusCol, placeholders(len(statuses))))
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	if opts.GameID > 0 {
		where = append(where, "game_id = ?")
		args = append(args, opts.GameID)
	}
	if !opts.StuckBefore.IsZero() {
		where = append(where, timeCol+" < ?")
		args = append(args, opts.StuckBefore.UTC())
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}
