package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBStore 基于 MongoDB 的令牌存储
type DBStore struct {
	db *Database
}

func NewDatabaseStore(db *Database) *DBStore {
	return &DBStore{db: db}
}

func handleErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrTokenNotFound
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) GetToken(ctx context.Context, token ids.Token) (*TokenRecord, error) {
	if token == "" {
		return nil, ErrTokenEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.db.OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "token", Value: token}}
	var record TokenRecord

	startTime := time.Now()
	err := ds.db.Tokens.FindOne(ctx, filter).Decode(&record)
	logger.DebugF("token query cost: %v", time.Since(startTime))

	if err != nil {
		return nil, handleErr(err)
	}
	return &record, nil
}

func (ds *DBStore) SaveToken(ctx context.Context, record *TokenRecord) error {
	if record.Token == "" {
		return ErrTokenEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.db.OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "token", Value: record.Token}}
	opts := options.Replace().SetUpsert(true)

	result, err := ds.db.Tokens.ReplaceOne(ctx, filter, record, opts)
	if err != nil {
		return handleErr(err)
	}

	logger.DebugF("Token saved: token=%s, user_id=%s, matched=%d, modified=%d, upserted=%v",
		record.Token,
		record.UserID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) DeleteToken(ctx context.Context, token ids.Token) error {
	if token == "" {
		return ErrTokenEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.db.OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "token", Value: token}}
	result, err := ds.db.Tokens.DeleteOne(ctx, filter)
	if err != nil {
		return handleErr(err)
	}

	logger.DebugF("Token deleted: token=%s, deleted=%d", token, result.DeletedCount)
	return nil
}
