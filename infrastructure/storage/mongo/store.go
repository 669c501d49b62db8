// Package mongo implements the vote and statistics stores on MongoDB.
//
// Votes live in the "votes" collection as an append-only log; per-model
// counters live in "model_stats" and are only ever changed with $inc
// upserts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
)

// Collection names.
const (
	VotesCollection = "votes"
	StatsCollection = "model_stats"
)

// DefaultConnectTimeout bounds Connect when the caller sets no deadline.
const DefaultConnectTimeout = 5 * time.Second

// DefaultOperationTimeout bounds every driver operation unless overridden.
const DefaultOperationTimeout = 5 * time.Second

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	opTimeout time.Duration
}

// WithOperationTimeout sets the client-wide timeout applied to every
// operation whose context carries no earlier deadline.
func WithOperationTimeout(d time.Duration) ConnectOption {
	return func(c *connectConfig) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// Client owns the driver connection and hands out the two stores.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect dials uri, verifies the server answers and ensures the indexes
// exist. A failure here is what puts the arena into storage-unavailable
// mode.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger, connectOpts ...ConnectOption) (*Client, error) {
	cc := connectConfig{opTimeout: DefaultOperationTimeout}
	for _, opt := range connectOpts {
		opt(&cc)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	opts := clientOptions(uri, cc)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, domain.NewStoreError(domain.ErrConnectionUnavailable, "connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.NewStoreError(domain.ErrConnectionUnavailable, "ping", err)
	}

	c := &Client{client: client, db: client.Database(database), logger: logger}
	if err := c.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB", zap.String("database", database))
	return c, nil
}

func clientOptions(uri string, cc connectConfig) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetAppName("go-arena").
		SetServerSelectionTimeout(DefaultConnectTimeout).
		SetTimeout(cc.opTimeout)
}

// EnsureIndexes creates the lookup indexes. It is idempotent.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	voteIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}, {Key: "model_a", Value: 1}, {Key: "model_b", Value: 1}},
			Options: options.Index().SetName("timestamp_models"),
		},
		{
			Keys:    bson.D{{Key: "prompt_fingerprint", Value: 1}},
			Options: options.Index().SetName("prompt_fingerprint"),
		},
		{
			Keys:    bson.D{{Key: "outcome", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("outcome_timestamp"),
		},
	}
	if _, err := c.db.Collection(VotesCollection).Indexes().CreateMany(ctx, voteIndexes); err != nil {
		return classify("create vote indexes", err)
	}

	// Unique per string key so concurrent first votes for a model cannot
	// create two records. Null and missing keys stay outside the index so
	// legacy bad records do not block startup.
	statsIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "model", Value: 1}},
		Options: options.Index().
			SetName("model_unique").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "model", Value: bson.D{{Key: "$type", Value: "string"}}}}),
	}
	if _, err := c.db.Collection(StatsCollection).Indexes().CreateOne(ctx, statsIndex); err != nil {
		return classify("create stats indexes", err)
	}
	return nil
}

// Votes returns the vote store backed by the "votes" collection.
func (c *Client) Votes() *VoteStore {
	return &VoteStore{coll: c.db.Collection(VotesCollection), now: time.Now}
}

// Stats returns the stats store backed by the "model_stats" collection.
func (c *Client) Stats() *StatsStore {
	return &StatsStore{coll: c.db.Collection(StatsCollection)}
}

// Ping verifies the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	return nil
}

// classify maps a driver error onto the store error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return domain.NewStoreError(domain.ErrDuplicateKey, op, err)
	case mongo.IsNetworkError(err),
		mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.NewStoreError(domain.ErrConnectionUnavailable, op, err)
	default:
		return domain.NewStoreError(domain.ErrWriteRejected, op, err)
	}
}
