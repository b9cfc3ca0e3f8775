package repositories

import (
	"context"
	"sync"

	"github.com/cbodonnell/tandem/pkg/repositories/models"
)

type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]models.ReconnectToken
}

func NewMemoryRepository() TokenRepository {
	return &MemoryRepository{
		tokens: make(map[string]models.ReconnectToken),
	}
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) SaveToken(ctx context.Context, token *models.ReconnectToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.ServerURL] = *token
	return nil
}

func (r *MemoryRepository) LoadToken(ctx context.Context, serverURL string) (*models.ReconnectToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[serverURL]
	if !ok {
		return nil, &ErrNotFound{}
	}
	return &token, nil
}

func (r *MemoryRepository) DeleteToken(ctx context.Context, serverURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, serverURL)
	return nil
}
