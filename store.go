package pubpreview

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store reads content items from the primary relational store. SQLite
// (modernc.org/sqlite) backs local deployments; PostgreSQL (pgx) backs the
// hosted store. The store is read-only.
type Store struct {
	db     *sql.DB
	driver string
}

// OpenStore opens the store for driver ("sqlite" or "pgx") and dsn.
func OpenStore(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite":
		return openSQLite(dsn)
	case "pgx", "postgres":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("pubpreview: unsupported store driver %q", driver)
	}
}

// NewStoreFromDB wraps an already-open database handle.
func NewStoreFromDB(db *sql.DB, driver string) *Store {
	if driver == "postgres" {
		driver = "pgx"
	}
	return &Store{db: db, driver: driver}
}

func openSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets readers proceed while an editor writes; busy_timeout makes
	// readers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db, driver: "sqlite"}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)
	return &Store{db: db, driver: "pgx"}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    slug TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    summary TEXT,
    social_image_url TEXT,
    inline_image_url TEXT,
    hero_image_url TEXT,
    published_at TEXT,
    updated_at TEXT,
    is_draft INTEGER NOT NULL DEFAULT 0
);
`)
	return err
}

const findPostQuery = `SELECT slug, title, summary, social_image_url, inline_image_url, hero_image_url, published_at, updated_at, is_draft
FROM posts WHERE slug = ? LIMIT 1`

// FindPostBySlug returns the row for slug, drafts included. It returns
// ErrNotFound when no row matches.
func (s *Store) FindPostBySlug(ctx context.Context, slug string) (ContentItem, error) {
	var (
		item                        ContentItem
		summary, social, inline     sql.NullString
		hero, publishedAt, updateAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(findPostQuery), slug).Scan(
		&item.Slug, &item.Title, &summary, &social, &inline, &hero, &publishedAt, &updateAt, &item.IsDraft,
	)
	if err != nil {
		return ContentItem{}, err
	}
	item.Summary = summary.String
	item.SocialImageURL = social.String
	item.InlineImageURL = inline.String
	item.HeroImageURL = hero.String
	item.PublishedAt = publishedAt.String
	item.UpdatedAt = updateAt.String
	return item, nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
