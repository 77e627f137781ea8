package database

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[ids.Token]TokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[ids.Token]TokenRecord)}
}

func (ms *MemoryStore) GetToken(_ context.Context, token ids.Token) (*TokenRecord, error) {
	if token == "" {
		return nil, ErrTokenEmpty
	}
	ms.mu.RLock()
	record, ok := ms.tokens[token]
	ms.mu.RUnlock()
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &record, nil
}

func (ms *MemoryStore) SaveToken(_ context.Context, record *TokenRecord) error {
	if record.Token == "" {
		return ErrTokenEmpty
	}
	ms.mu.Lock()
	ms.tokens[record.Token] = *record
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) DeleteToken(_ context.Context, token ids.Token) error {
	ms.mu.Lock()
	delete(ms.tokens, token)
	ms.mu.Unlock()
	return nil
}
