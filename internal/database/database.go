package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	c "github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Database struct {
	Client           *mongo.Client
	Database         *mongo.Database
	Tokens           *mongo.Collection
	OperationTimeout time.Duration
}

type DBCloseCallback struct {
	db *Database
}

func NewDBCloseCallback(db *Database) *DBCloseCallback {
	return &DBCloseCallback{db: db}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	return dc.db.Client.Disconnect(ctx)
}

func ConnectDatabase(ctx context.Context, config c.DatabaseConfig, appName string) (*Database, error) {
	logger.DebugF("Connecting to database...")

	operationTimeout := utils.MustParseDuration(config.OperationTimeout, 5*time.Second)

	// 编码特殊字符
	encodedUser := url.QueryEscape(config.Username)
	encodedPass := url.QueryEscape(config.Password)
	databaseUrl := fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	if config.Username != "" {
		databaseUrl = fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
			encodedUser, encodedPass,
			config.Host,
			config.Port,
		)
	}

	clientOptions := options.Client().ApplyURI(databaseUrl).SetAppName(appName)
	// 连接池配置
	clientOptions.SetMinPoolSize(config.MinPoolSize)
	clientOptions.SetMaxPoolSize(config.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.MustParseDuration(config.ConnectIdleTimeout, 5*time.Minute))
	// 超时限制
	clientOptions.SetConnectTimeout(utils.MustParseDuration(config.ConnectTimeout, 10*time.Second))
	clientOptions.SetSocketTimeout(utils.MustParseDuration(config.SocketTimeout, 30*time.Second))
	// 心跳包
	clientOptions.SetHeartbeatInterval(utils.MustParseDuration(config.Heartbeat, 10*time.Second))
	if config.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	// 连接池监控
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	db := client.Database(config.Database)
	tokens := db.Collection(TokenCollectionName)

	_, err = tokens.Indexes().CreateOne(
		connectCtx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tokens_token_unique"),
		},
	)
	if err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	logger.InfoF("Connected to database %s at %s:%d", config.Database, config.Host, config.Port)
	return &Database{
		Client:           client,
		Database:         db,
		Tokens:           tokens,
		OperationTimeout: operationTimeout,
	}, nil
}
