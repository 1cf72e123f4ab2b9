package account

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the production account store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// RunMigrations applies the embedded schema migrations. Already-current
// schemas return without error.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const accountColumns = `id, username, email, rank_points, current_rank, games_played, wins, losses`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.RankPoints, &a.CurrentRank, &a.GamesPlayed, &a.Wins, &a.Losses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("nil account")
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	q := `INSERT INTO users (` + accountColumns + `)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.db.ExecContext(ctx, q,
		a.ID, a.Username, a.Email, a.RankPoints, a.CurrentRank, a.GamesPlayed, a.Wins, a.Losses)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, strings.TrimSpace(id)))
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM users WHERE username = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, strings.TrimSpace(username)))
}

// ApplyStatsDelta updates counters in one statement; the rank-point floor
// lives in SQL so concurrent deltas cannot drive the value negative.
func (s *PostgresStore) ApplyStatsDelta(ctx context.Context, id string, d StatsDelta) error {
	q := `UPDATE users SET
	        wins = wins + $2,
	        losses = losses + $3,
	        games_played = games_played + $4,
	        rank_points = GREATEST(0, rank_points + $5)
	      WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, strings.TrimSpace(id), d.Wins, d.Losses, d.GamesPlayed, d.RankPoints)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAllByRankDesc(ctx context.Context) ([]*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM users ORDER BY rank_points DESC, id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetRankPositions(ctx context.Context, ranks map[string]int) error {
	if len(ranks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE users SET current_rank = $2 WHERE id = $1`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, rank := range ranks {
		if _, err := stmt.ExecContext(ctx, id, rank); err != nil {
			return err
		}
	}
	return tx.Commit()
}
