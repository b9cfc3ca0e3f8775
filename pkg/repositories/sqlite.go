package repositories

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/cbodonnell/tandem/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at path and applies the embedded migrations.
// Use ":memory:" for a throwaway store.
func NewSQLiteRepository(ctx context.Context, dbPath string) (TokenRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		migrationPath := path.Join("migrations", entry.Name())
		migration, err := migrations.ReadFile(migrationPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveToken(ctx context.Context, token *models.ReconnectToken) error {
	q := `
	INSERT OR REPLACE INTO reconnect_tokens (server_url, room_id, player_id, player_name, token, issued_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, token.ServerURL, token.RoomID, token.PlayerID, token.PlayerName, token.Token, token.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) LoadToken(ctx context.Context, serverURL string) (*models.ReconnectToken, error) {
	q := `
	SELECT room_id, player_id, player_name, token, issued_at FROM reconnect_tokens WHERE server_url = ?;
	`
	token := &models.ReconnectToken{
		ServerURL: serverURL,
	}
	err := r.db.QueryRowContext(ctx, q, serverURL).Scan(&token.RoomID, &token.PlayerID, &token.PlayerName, &token.Token, &token.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan token: %v", err)
	}

	return token, nil
}

func (r *SQLiteRepository) DeleteToken(ctx context.Context, serverURL string) error {
	q := `
	DELETE FROM reconnect_tokens WHERE server_url = ?;
	`
	if _, err := r.db.ExecContext(ctx, q, serverURL); err != nil {
		return fmt.Errorf("failed to delete token: %v", err)
	}

	return nil
}
