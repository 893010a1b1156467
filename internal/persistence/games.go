package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrGameConflict is returned when a game's id and external ref id point at
// different existing rows.
var ErrGameConflict = errors.New("game conflicts with an existing row")

// EnsureGame inserts g unless a row with the same id or external ref id
// already exists, and fills g.ID. Existing rows are left untouched. A game
// without an external ref id is stored with NULL there.
func (s *Store) EnsureGame(ctx context.Context, g *Game) error {
	if g == nil {
		return fmt.Errorf("game is nil")
	}
	if g.ExternalRefID <= 0 && g.ID <= 0 {
		return fmt.Errorf("game needs an id or an external ref id")
	}
	if g.Status == "" {
		g.Status = GamePending
	}
	now := time.Now().UTC()
	ref := nullInt64(g.ExternalRefID)

	if g.ID > 0 {
		if _, err := s.exec(ctx,
			`INSERT INTO games (id, external_ref_id, name, description, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			g.ID, ref, g.Name, g.Description, string(g.Status), now,
		); err != nil {
			return err
		}
		return s.checkGameRef(ctx, g)
	}

	var id int64
	err := s.queryRow(ctx, `SELECT id FROM games WHERE external_ref_id = ?`, g.ExternalRefID).Scan(&id)
	switch {
	case err == nil:
		g.ID = id
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if err := s.queryRow(ctx,
		`INSERT INTO games (external_ref_id, name, description, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`,
		ref, g.Name, g.Description, string(g.Status), now,
	).Scan(&id); err != nil {
		return err
	}
	g.ID = id
	return nil
}

// checkGameRef verifies that the row stored under g.ID agrees with
// g.ExternalRefID after an insert that may have been skipped.
func (s *Store) checkGameRef(ctx context.Context, g *Game) error {
	var stored sql.NullInt64
	err := s.queryRow(ctx, `SELECT external_ref_id FROM games WHERE id = ?`, g.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		// The insert lost to the external ref id unique key.
		return fmt.Errorf("game %d: external ref id %d belongs to another game: %w", g.ID, g.ExternalRefID, ErrGameConflict)
	}
	if err != nil {
		return err
	}
	if g.ExternalRefID > 0 && stored.Valid && stored.Int64 != g.ExternalRefID {
		return fmt.Errorf("game %d has external ref id %d, not %d: %w", g.ID, stored.Int64, g.ExternalRefID, ErrGameConflict)
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, id int64) (Game, bool, error) {
	var g Game
	var status string
	var ref sql.NullInt64
	err := s.queryRow(ctx,
		`SELECT id, external_ref_id, name, description, status, updated_at
		 FROM games
		 WHERE id = ?`,
		id,
	).Scan(&g.ID, &ref, &g.Name, &g.Description, &status, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Game{}, false, nil
		}
		return Game{}, false, err
	}
	g.ExternalRefID = ref.Int64
	g.Status = GameStatus(status)
	return g, true, nil
}

// SaveGameTranslation upserts the translation row. A completed translation
// also flips the game to active in the same transaction.
func (s *Store) SaveGameTranslation(ctx context.Context, t GameTranslation) error {
	if t.GameID <= 0 {
		return fmt.Errorf("game id is required")
	}
	now := time.Now().UTC()
	requestedAt := t.RequestedAt.UTC()
	if t.RequestedAt.IsZero() {
		requestedAt = now
	}
	var completedAt sql.NullTime
	if t.Status == TranslationCompleted {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO game_translations (game_id, name_vi, description_vi, status, error_message, requested_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(game_id) DO UPDATE SET
				name_vi=COALESCE(excluded.name_vi, game_translations.name_vi),
				description_vi=COALESCE(excluded.description_vi, game_translations.description_vi),
				status=excluded.status,
				error_message=excluded.error_message,
				completed_at=excluded.completed_at`),
			t.GameID,
			nullString(t.NameVI),
			nullString(t.DescriptionVI),
			string(t.Status),
			nullString(t.ErrorMessage),
			requestedAt,
			completedAt,
		); err != nil {
			return err
		}

		if t.Status != TranslationCompleted {
			return nil
		}
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE games SET status = ?, updated_at = ? WHERE id = ?`),
			string(GameActive), now, t.GameID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("game %d not found", t.GameID)
		}
		return nil
	})
}

func (s *Store) GetGameTranslation(ctx context.Context, gameID int64) (GameTranslation, bool, error) {
	var t GameTranslation
	var status string
	var nameVI, descVI, errMsg sql.NullString
	var completedAt sql.NullTime
	err := s.queryRow(ctx,
		`SELECT game_id, name_vi, description_vi, status, error_message, requested_at, completed_at
		 FROM game_translations
		 WHERE game_id = ?`,
		gameID,
	).Scan(&t.GameID, &nameVI, &descVI, &status, &errMsg, &t.RequestedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GameTranslation{}, false, nil
		}
		return GameTranslation{}, false, err
	}
	t.NameVI = nameVI.String
	t.DescriptionVI = descVI.String
	t.Status = TranslationStatus(status)
	t.ErrorMessage = errMsg.String
	t.CompletedAt = completedAt.Time
	return t, true, nil
}
