package database

import (
	"context"
	"errors"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

const TokenCollectionName = "tokens"

var (
	ErrTokenEmpty    = errors.New("token is empty")
	ErrTokenNotFound = errors.New("token not found")
)

// TokenRecord 令牌与用户的绑定关系，由登录接口写入，Identify 时查询
type TokenRecord struct {
	Token    ids.Token  `bson:"token" json:"token"`
	UserID   ids.UserID `bson:"user_id" json:"user_id"`
	IssuedAt time.Time  `bson:"issued_at" json:"issued_at"`
}

type TokenStore interface {
	SaveToken(ctx context.Context, record *TokenRecord) error
	// GetToken 令牌不存在时返回 ErrTokenNotFound
	GetToken(ctx context.Context, token ids.Token) (*TokenRecord, error)
	DeleteToken(ctx context.Context, token ids.Token) error
}

func NewTokenRecord(token ids.Token, userID ids.UserID) *TokenRecord {
	return &TokenRecord{
		Token:    token,
		UserID:   userID,
		IssuedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
