// Package postgres provides the Postgres-backed ranking store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the books table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// RankingStore persists bestseller rankings into a books table.
type RankingStore struct {
	pool  pool
	table string
}

// NewRankingStore creates a Postgres-backed RankingStore using the provided config.
func NewRankingStore(ctx context.Context, cfg Config) (*RankingStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRankingStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRankingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRankingStoreWithPool(p pool, table string) (*RankingStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "books"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RankingStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RankingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *RankingStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the books table and its ranking index if missing.
func (s *RankingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	isbn TEXT UNIQUE,
	ranking INTEGER,
	favorite_count BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS %[1]s_ranking_idx ON %[1]s (ranking) WHERE ranking IS NOT NULL`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveBestsellers replaces the current ranking in one transaction: every
// ranking is cleared, then each record is inserted or, when its ISBN already
// exists, has its ranking updated. Any failure rolls the whole batch back.
func (s *RankingStore) SaveBestsellers(ctx context.Context, records []crawler.BookRecord) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET ranking = NULL WHERE ranking IS NOT NULL`, s.table)); err != nil {
		return fmt.Errorf("reset rankings: %w", err)
	}

	upsert := fmt.Sprintf(`
INSERT INTO %s (title, author, description, image, isbn, ranking, favorite_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (isbn) DO UPDATE SET ranking = EXCLUDED.ranking`, s.table)
	for _, rec := range records {
		if _, err = tx.Exec(ctx, upsert,
			rec.Title,
			rec.Author,
			rec.Description,
			rec.ImageURL,
			nullableISBN(rec.ISBN),
			rec.Ranking,
			rec.FavoriteCount,
		); err != nil {
			return fmt.Errorf("upsert rank %d: %w", rec.Ranking, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rankings: %w", err)
	}
	return nil
}

// ListRanked returns every book that currently holds a ranking, ascending.
func (s *RankingStore) ListRanked(ctx context.Context) ([]crawler.StoredBook, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT id, title, author, isbn, description, image, ranking, favorite_count
FROM %s
WHERE ranking IS NOT NULL
ORDER BY ranking ASC`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query ranked books: %w", err)
	}
	defer rows.Close()

	var books []crawler.StoredBook
	for rows.Next() {
		var (
			book    crawler.StoredBook
			isbn    pgtype.Text
			ranking pgtype.Int8
		)
		if err := rows.Scan(
			&book.ID,
			&book.Title,
			&book.Author,
			&isbn,
			&book.Description,
			&book.ImageURL,
			&ranking,
			&book.FavoriteCount,
		); err != nil {
			return nil, fmt.Errorf("scan ranked book: %w", err)
		}
		if isbn.Valid {
			book.ISBN = isbn.String
		}
		if ranking.Valid {
			r := int(ranking.Int64)
			book.Ranking = &r
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked books: %w", err)
	}
	return books, nil
}

// nullableISBN maps a blank ISBN to NULL so it never collides on the unique key.
func nullableISBN(isbn string) any {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return nil
	}
	return isbn
}
