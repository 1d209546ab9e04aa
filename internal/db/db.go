package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/handelsrausch/internal/models"
)

// DB wraps a PostgreSQL connection pool. It owns the commodity catalog,
// the per-room settings blobs and the append-only highscore log; live
// game state never touches it.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Catalog retrieves every commodity in the catalog, in seed order.
func (db *DB) Catalog(ctx context.Context) ([]models.CatalogEntry, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, name, min_price, max_price, base_price FROM substances ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	defer rows.Close()

	var catalog []models.CatalogEntry
	for rows.Next() {
		var e models.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.MinPrice, &e.MaxPrice, &e.BasePrice); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		catalog = append(catalog, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return catalog, nil
}

// LoadSettings returns the raw settings blob for a room, or nil when
// none has been stored yet. The blob is opaque JSON; the game layer
// merges it over its defaults.
func (db *DB) LoadSettings(ctx context.Context, roomID string) ([]byte, error) {
	var blob string
	err := db.Pool.QueryRow(ctx,
		"SELECT settings_json FROM rooms WHERE id = $1", roomID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room settings: %w", err)
	}
	return []byte(blob), nil
}

// SaveSettings upserts a room's settings blob.
func (db *DB) SaveSettings(ctx context.Context, roomID string, settings []byte) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO rooms (id, settings_json) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET settings_json = EXCLUDED.settings_json",
		roomID, string(settings))
	if err != nil {
		return fmt.Errorf("failed to save room settings: %w", err)
	}
	return nil
}

// AppendHighscore inserts one game-over row. Rows are never updated.
func (db *DB) AppendHighscore(ctx context.Context, entry models.HighscoreEntry) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO highscores (player_name, cash, recorded_at) VALUES ($1, $2, $3)",
		entry.PlayerName, entry.Cash, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert highscore: %w", err)
	}
	return nil
}

// TopHighscores retrieves the best results, richest first.
func (db *DB) TopHighscores(ctx context.Context, limit int) ([]models.HighscoreEntry, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT player_name, cash, recorded_at FROM highscores ORDER BY cash DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get highscores: %w", err)
	}
	defer rows.Close()

	var entries []models.HighscoreEntry
	for rows.Next() {
		var e models.HighscoreEntry
		if err := rows.Scan(&e.PlayerName, &e.Cash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan highscore row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read highscores: %w", err)
	}
	return entries, nil
}

// SeedCatalog inserts catalog entries when the table is empty. Returns
// true when it seeded.
func (db *DB) SeedCatalog(ctx context.Context, entries []models.CatalogEntry) (bool, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM substances").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count substances: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	for i, e := range entries {
		_, err := db.Pool.Exec(ctx,
			"INSERT INTO substances (id, name, min_price, max_price, base_price, seq) VALUES ($1, $2, $3, $4, $5, $6)",
			e.ID, e.Name, e.MinPrice, e.MaxPrice, e.BasePrice, i)
		if err != nil {
			return false, fmt.Errorf("failed to seed substance %s: %w", e.ID, err)
		}
	}
	return true, nil
}
