package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotProcessing is returned when a terminal transition targets a rulebook
// that is not in processing.
var ErrNotProcessing = errors.New("rulebook is not processing")

// ErrTerminal is returned when a completed or failed rulebook would move back
// to processing. Only an administrative reset reopens it.
var ErrTerminal = errors.New("rulebook is in a terminal state")

const rulebookColumns = `id, game_id, title, original_url, local_file_path, content_vi, markdown_path, status, error_message, processed_at, updated_at`

// EnsureRulebook inserts rb unless it already exists and fills rb.ID. Rows
// without an id are matched on (game_id, original_url).
func (s *Store) EnsureRulebook(ctx context.Context, rb *Rulebook) error {
	if rb == nil {
		return fmt.Errorf("rulebook is nil")
	}
	if rb.GameID <= 0 {
		return fmt.Errorf("rulebook needs a game id")
	}
	if strings.TrimSpace(rb.Title) == "" {
		rb.Title = "Rules"
	}
	if rb.Status == "" {
		rb.Status = RulebookPending
	}
	now := time.Now().UTC()

	if rb.ID > 0 {
		_, err := s.exec(ctx,
			`INSERT INTO rulebooks (id, game_id, title, original_url, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			rb.ID, rb.GameID, rb.Title, rb.OriginalURL, string(rb.Status), now,
		)
		return err
	}

	var id int64
	err := s.queryRow(ctx,
		`SELECT id FROM rulebooks WHERE game_id = ? AND original_url = ?`,
		rb.GameID, rb.OriginalURL,
	).Scan(&id)
	switch {
	case err == nil:
		rb.ID = id
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if err := s.queryRow(ctx,
		`INSERT INTO rulebooks (game_id, title, original_url, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`,
		rb.GameID, rb.Title, rb.OriginalURL, string(rb.Status), now,
	).Scan(&id); err != nil {
		return err
	}
	rb.ID = id
	return nil
}

func (s *Store) GetRulebook(ctx context.Context, id int64) (Rulebook, bool, error) {
	row := s.queryRow(ctx, `SELECT `+rulebookColumns+` FROM rulebooks WHERE id = ?`, id)
	rb, err := scanRulebook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rulebook{}, false, nil
		}
		return Rulebook{}, false, err
	}
	return rb, true, nil
}

func (s *Store) ListRulebooks(ctx context.Context, filter RulebookFilter) ([]Rulebook, error) {
	var where []string
	var args []any
	if filter.GameID > 0 {
		where = append(where, "game_id = ?")
		args = append(args, filter.GameID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WithoutCache {
		where = append(where, "(local_file_path IS NULL OR local_file_path = '')")
	}

	q := `SELECT ` + rulebookColumns + ` FROM rulebooks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Rulebook, 0)
	for rows.Next() {
		rb, err := scanRulebook(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkRulebookProcessing starts a processing cycle and returns the status the
// row had before. A previous status of processing means an earlier run died.
// Completed and failed rows are refused with ErrTerminal.
func (s *Store) MarkRulebookProcessing(ctx context.Context, id int64) (RulebookStatus, error) {
	var previous string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM rulebooks WHERE id = ?`), id).Scan(&previous); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("rulebook %d not found", id)
			}
			return err
		}
		switch RulebookStatus(previous) {
		case RulebookCompleted, RulebookFailed:
			return fmt.Errorf("rulebook %d is %s: %w", id, previous, ErrTerminal)
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE rulebooks SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`),
			string(RulebookProcessing), time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return RulebookStatus(previous), err
	}
	return RulebookStatus(previous), nil
}

func (s *Store) SetRulebookCachePath(ctx context.Context, id int64, path string) error {
	res, err := s.exec(ctx,
		`UPDATE rulebooks SET local_file_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("rulebook %d not found", id))
}

// CompleteRulebook moves a processing rulebook to completed.
func (s *Store) CompleteRulebook(ctx context.Context, id int64, contentVI, markdownPath string) error {
	now := time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE rulebooks
		 SET status = ?, content_vi = ?, markdown_path = ?, error_message = NULL, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(RulebookCompleted), contentVI, markdownPath, now, now, id, string(RulebookProcessing))
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("complete rulebook %d: %w", id, ErrNotProcessing))
}

// FailRulebook moves a processing rulebook to failed with msg.
func (s *Store) FailRulebook(ctx context.Context, id int64, msg string) error {
	now := time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE rulebooks
		 SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(RulebookFailed), msg, now, now, id, string(RulebookProcessing))
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("fail rulebook %d: %w", id, ErrNotProcessing))
}

func (s *Store) CountRulebooksByStatus(ctx context.Context) (map[RulebookStatus]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM rulebooks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[RulebookStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		ret[RulebookStatus(status)] = n
	}
	return ret, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRulebook(row rowScanner) (Rulebook, error) {
	var rb Rulebook
	var status string
	var localPath, contentVI, markdownPath, errMsg sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(
		&rb.ID,
		&rb.GameID,
		&rb.Title,
		&rb.OriginalURL,
		&localPath,
		&contentVI,
		&markdownPath,
		&status,
		&errMsg,
		&processedAt,
		&rb.UpdatedAt,
	); err != nil {
		return Rulebook{}, err
	}
	rb.LocalFilePath = localPath.String
	rb.ContentVI = contentVI.String
	rb.MarkdownPath = markdownPath.String
	rb.Status = RulebookStatus(status)
	rb.ErrorMessage = errMsg.String
	rb.ProcessedAt = processedAt.Time
	return rb, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
