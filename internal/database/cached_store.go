package database

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

// CachedStore 在任意 TokenStore 之前加一层过期 LRU，只缓存命中结果
type CachedStore struct {
	next  TokenStore
	cache *expirable.LRU[ids.Token, *TokenRecord]
}

func NewCachedStore(next TokenStore, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:  next,
		cache: expirable.NewLRU[ids.Token, *TokenRecord](size, nil, ttl),
	}
}

func (cs *CachedStore) GetToken(ctx context.Context, token ids.Token) (*TokenRecord, error) {
	if record, ok := cs.cache.Get(token); ok {
		copied := *record
		return &copied, nil
	}
	record, err := cs.next.GetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	copied := *record
	cs.cache.Add(token, &copied)
	return record, nil
}

func (cs *CachedStore) SaveToken(ctx context.Context, record *TokenRecord) error {
	if err := cs.next.SaveToken(ctx, record); err != nil {
		return err
	}
	copied := *record
	cs.cache.Add(record.Token, &copied)
	return nil
}

func (cs *CachedStore) DeleteToken(ctx context.Context, token ids.Token) error {
	cs.cache.Remove(token)
	return cs.next.DeleteToken(ctx, token)
}

func (cs *CachedStore) Len() int {
	return cs.cache.Len()
}
