package repositories

import (
	"context"

	"github.com/cbodonnell/tandem/pkg/repositories/models"
)

// TokenRepository stores reconnect tokens, one per server.
type TokenRepository interface {
	Close(ctx context.Context) error
	SaveToken(ctx context.Context, token *models.ReconnectToken) error
	LoadToken(ctx context.Context, serverURL string) (*models.ReconnectToken, error)
	DeleteToken(ctx context.Context, serverURL string) error
}
