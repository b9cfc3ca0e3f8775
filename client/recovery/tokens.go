package recovery

import (
	"context"
	"fmt"

	"github.com/cbodonnell/tandem/pkg/repositories"
	"github.com/cbodonnell/tandem/pkg/repositories/models"
	"github.com/jonboulle/clockwork"
)

// Credentials identify a seat that can be resumed.
type Credentials struct {
	RoomID     string
	PlayerID   string
	PlayerName string
	Token      string
}

// TokenStore caches the reconnect credentials for one relay.
type TokenStore struct {
	repo      repositories.TokenRepository
	serverURL string
	clock     clockwork.Clock
}

func NewTokenStore(repo repositories.TokenRepository, serverURL string, clock clockwork.Clock) *TokenStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenStore{
		repo:      repo,
		serverURL: serverURL,
		clock:     clock,
	}
}

func (s *TokenStore) Save(ctx context.Context, creds Credentials) error {
	return s.repo.SaveToken(ctx, &models.ReconnectToken{
		ServerURL:  s.serverURL,
		RoomID:     creds.RoomID,
		PlayerID:   creds.PlayerID,
		PlayerName: creds.PlayerName,
		Token:      creds.Token,
		IssuedAt:   s.clock.Now().UnixMilli(),
	})
}

// Load returns the cached credentials, or an error satisfying repositories.IsNotFound.
func (s *TokenStore) Load(ctx context.Context) (Credentials, error) {
	token, err := s.repo.LoadToken(ctx, s.serverURL)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		RoomID:     token.RoomID,
		PlayerID:   token.PlayerID,
		PlayerName: token.PlayerName,
		Token:      token.Token,
	}, nil
}

// Discard removes the cached credentials.
func (s *TokenStore) Discard(ctx context.Context) error {
	if err := s.repo.DeleteToken(ctx, s.serverURL); err != nil {
		return fmt.Errorf("failed to discard reconnect token: %w", err)
	}
	return nil
}
