package match

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/epgsync/epg-sync/internal/textnorm"
)

// Cache persists resolved matches across runs so a fuzzy decision made once
// stays stable instead of flapping when a provider reorders its guide.
// Cached ids are re-validated against the current run's guide index before
// use, so a channel that vanished upstream falls through to live matching.
type Cache struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS channel_matches (
	norm_name  TEXT NOT NULL,
	tvg_id     TEXT NOT NULL DEFAULT '',
	guide_id   TEXT NOT NULL,
	method     TEXT NOT NULL,
	confidence REAL NOT NULL,
	last_seen  INTEGER NOT NULL,
	PRIMARY KEY (norm_name, tvg_id)
);`

// OpenCache opens (creating if necessary) the match cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("match cache open: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("match cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup returns the cached guide id for a playlist channel, if any.
func (c *Cache) Lookup(name, tvgID string) (guideID string, confidence float64, ok bool) {
	if c == nil || c.db == nil {
		return "", 0, false
	}
	row := c.db.QueryRow(
		`SELECT guide_id, confidence FROM channel_matches WHERE norm_name = ? AND tvg_id = ?`,
		textnorm.Normalize(name), textnorm.Compact(tvgID))
	if err := row.Scan(&guideID, &confidence); err != nil {
		return "", 0, false
	}
	return guideID, confidence, true
}

// Store upserts a resolved match.
func (c *Cache) Store(name, tvgID, guideID, method string, confidence float64) error {
	if c == nil || c.db == nil {
		return nil
	}
	_, err := c.db.Exec(
		`INSERT INTO channel_matches (norm_name, tvg_id, guide_id, method, confidence, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(norm_name, tvg_id) DO UPDATE SET
		   guide_id = excluded.guide_id,
		   method = excluded.method,
		   confidence = excluded.confidence,
		   last_seen = excluded.last_seen`,
		textnorm.Normalize(name), textnorm.Compact(tvgID), guideID, method, confidence, time.Now().Unix())
	return err
}
