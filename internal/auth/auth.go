// Package auth 签发登录令牌并在 Identify 时把令牌解析为用户
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

var ErrUnknownToken = errors.New("unknown token")

type Resolver interface {
	Resolve(ctx context.Context, token ids.Token) (ids.UserID, error)
}

type Issuer struct {
	store database.TokenStore
}

func NewIssuer(store database.TokenStore) *Issuer {
	return &Issuer{store: store}
}

// Login 为新的匿名用户签发令牌
func (i *Issuer) Login(ctx context.Context) (ids.Token, ids.UserID, error) {
	token := ids.NewToken()
	user := ids.NewUserID()
	if err := i.store.SaveToken(ctx, database.NewTokenRecord(token, user)); err != nil {
		return "", "", fmt.Errorf("save token: %w", err)
	}
	logger.DebugF("Issued token %s for user %s", token, user)
	return token, user, nil
}

// Resolve 查不到令牌时返回 ErrUnknownToken，其余错误原样包装
func (i *Issuer) Resolve(ctx context.Context, token ids.Token) (ids.UserID, error) {
	record, err := i.store.GetToken(ctx, token)
	if errors.Is(err, database.ErrTokenNotFound) || errors.Is(err, database.ErrTokenEmpty) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return record.UserID, nil
}

func (i *Issuer) Revoke(ctx context.Context, token ids.Token) error {
	return i.store.DeleteToken(ctx, token)
}
