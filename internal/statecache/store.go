package statecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reel/internal/config"
	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/services"
)

// Store manages the snapshot cache backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Record is a cached storyboard.
type Record struct {
	Storyboard  scene.Storyboard
	Scenes      []scene.Scene
	ActiveIndex int
	Channel     reconcile.ChannelState
	Version     uint64
	SavedAt     time.Time
}

// Summary is one row of List.
type Summary struct {
	StoryboardID string
	Mood         string
	Scenes       int
	Generating   int
	Failed       int
	SavedAt      time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the cache database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.StateDBPath())
}

// OpenPath opens the cache at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FromSnapshot converts a store snapshot into a cache record. Placeholder
// scenes are left out; they have no identity outside the running process.
func FromSnapshot(snap reconcile.Snapshot, savedAt time.Time) Record {
	rec := Record{
		Storyboard:  snap.Storyboard.Clone(),
		ActiveIndex: snap.ActiveIndex,
		Channel:     snap.Channel,
		Version:     snap.Version,
		SavedAt:     savedAt.UTC(),
	}
	rec.Storyboard.SceneOrder = rec.Storyboard.SceneOrder[:0]
	var activeID string
	if snap.ActiveIndex >= 0 && snap.ActiveIndex < len(snap.Scenes) {
		activeID = snap.Scenes[snap.ActiveIndex].ID
	}
	for _, sc := range snap.Scenes {
		if sc.Temporary {
			continue
		}
		rec.Scenes = append(rec.Scenes, sc.Clone())
		rec.Storyboard.SceneOrder = append(rec.Storyboard.SceneOrder, sc.ID)
	}
	rec.ActiveIndex = scene.IndexOf(rec.Storyboard.SceneOrder, activeID)
	if rec.ActiveIndex < 0 && len(rec.Scenes) > 0 {
		rec.ActiveIndex = 0
	}
	return rec
}

// Save replaces the cached copy of a storyboard.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Storyboard.ID) == "" {
		return services.Wrap(services.ErrValidation, "statecache", "save", "storyboard id required", nil)
	}
	order, err := json.Marshal(rec.Storyboard.SceneOrder)
	if err != nil {
		return fmt.Errorf("marshal scene order: %w", err)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	return retryOnBusy(ctx, func() error {
		return s.saveOnce(ctx, rec, order)
	})
}

func (s *Store) saveOnce(ctx context.Context, rec Record, order []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO storyboards (id, mood, creative_brief, scene_order_json, active_index, channel_state, snapshot_version, saved_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             mood = excluded.mood,
             creative_brief = excluded.creative_brief,
             scene_order_json = excluded.scene_order_json,
             active_index = excluded.active_index,
             channel_state = excluded.channel_state,
             snapshot_version = excluded.snapshot_version,
             saved_at = excluded.saved_at`,
		rec.Storyboard.ID,
		nullableString(rec.Storyboard.Mood),
		nullableString(string(rec.Storyboard.CreativeBrief)),
		string(order),
		rec.ActiveIndex,
		nullableString(string(rec.Channel)),
		int64(rec.Version),
		rec.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert storyboard: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE storyboard_id = ?`, rec.Storyboard.ID); err != nil {
		return fmt.Errorf("clear scenes: %w", err)
	}
	for i, sc := range rec.Scenes {
		payload, err := json.Marshal(sc)
		if err != nil {
			return fmt.Errorf("marshal scene %s: %w", sc.ID, err)
		}
		gen := sc.Generation
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scenes (storyboard_id, scene_id, position, phase, text_status, image_status, video_status, error_message, scene_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Storyboard.ID, sc.ID, i, string(sc.Phase),
			string(gen.Text), string(gen.Image), string(gen.Video),
			nullableString(sc.ErrorMessage), string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert scene %s: %w", sc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns the cached copy of a storyboard.
func (s *Store) Load(ctx context.Context, storyboardID string) (Record, error) {
	var (
		rec      Record
		mood     sql.NullString
		brief    sql.NullString
		orderRaw string
		channel  sql.NullString
		version  int64
		savedRaw string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mood, creative_brief, scene_order_json, active_index, channel_state, snapshot_version, saved_at
         FROM storyboards WHERE id = ?`, storyboardID)
	err := row.Scan(&rec.Storyboard.ID, &mood, &brief, &orderRaw, &rec.ActiveIndex, &channel, &version, &savedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, services.Wrap(services.ErrNotFound, "statecache", "load", "storyboard "+storyboardID+" not cached", nil)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load storyboard: %w", err)
	}
	rec.Storyboard.Mood = mood.String
	if brief.Valid && brief.String != "" {
		rec.Storyboard.CreativeBrief = json.RawMessage(brief.String)
	}
	if err := json.Unmarshal([]byte(orderRaw), &rec.Storyboard.SceneOrder); err != nil {
		return Record{}, fmt.Errorf("decode scene order: %w", err)
	}
	rec.Channel = reconcile.ChannelState(channel.String)
	rec.Version = uint64(version)
	rec.SavedAt = parseTime(savedRaw)

	rows, err := s.db.QueryContext(ctx,
		`SELECT scene_json FROM scenes WHERE storyboard_id = ? ORDER BY position`, storyboardID)
	if err != nil {
		return Record{}, fmt.Errorf("load scenes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return Record{}, err
		}
		var sc scene.Scene
		if err := json.Unmarshal([]byte(payload), &sc); err != nil {
			return Record{}, fmt.Errorf("decode scene: %w", err)
		}
		sc.Normalize()
		rec.Scenes = append(rec.Scenes, sc)
	}
	return rec, rows.Err()
}

// List summarizes every cached storyboard, most recently saved first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT b.id, b.mood, b.saved_at,
               COUNT(sc.scene_id),
               COALESCE(SUM(CASE WHEN 'generating' IN (sc.text_status, sc.image_status, sc.video_status) THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN 'error' IN (sc.text_status, sc.image_status, sc.video_status) THEN 1 ELSE 0 END), 0)
        FROM storyboards b
        LEFT JOIN scenes sc ON sc.storyboard_id = b.id
        GROUP BY b.id
        ORDER BY b.saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list storyboards: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			mood     sql.NullString
			savedRaw string
		)
		if err := rows.Scan(&sum.StoryboardID, &mood, &savedRaw, &sum.Scenes, &sum.Generating, &sum.Failed); err != nil {
			return nil, err
		}
		sum.Mood = mood.String
		sum.SavedAt = parseTime(savedRaw)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete drops a storyboard from the cache. Deleting an unknown id is not an
// error.
func (s *Store) Delete(ctx context.Context, storyboardID string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM storyboards WHERE id = ?`, storyboardID)
		return err
	})
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
