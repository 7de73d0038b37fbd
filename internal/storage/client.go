package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultServerSelectionTimeout bounds how long Connect waits for a usable server.
const DefaultServerSelectionTimeout = 5 * time.Second

// Settings describes how to reach a MongoDB deployment.
type Settings struct {
	URI                    string
	Database               string
	ServerSelectionTimeout time.Duration
	AppName                string
}

// Client owns a driver client handle and the database bound to it.
// The zero state is disconnected; Connect and Disconnect move between states.
type Client struct {
	settings Settings
	client   *mongo.Client
	db       *mongo.Database
}

// NewClient creates a disconnected client for the given settings.
func NewClient(settings Settings) *Client {
	if settings.ServerSelectionTimeout <= 0 {
		settings.ServerSelectionTimeout = DefaultServerSelectionTimeout
	}
	return &Client{settings: settings}
}

// Connect opens the driver client, verifies the primary answers a ping and
// binds the configured database. A failed ping releases the handle again.
func (c *Client) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	opts := options.Client().
		ApplyURI(c.settings.URI).
		SetServerSelectionTimeout(c.settings.ServerSelectionTimeout)
	if c.settings.AppName != "" {
		opts.SetAppName(c.settings.AppName)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}

	c.client = client
	c.db = client.Database(c.settings.Database)
	return nil
}

// Disconnect releases the client handle if one is open. Calling it on a
// disconnected client is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.db = nil
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Connected reports whether a handle is currently open.
func (c *Client) Connected() bool {
	return c.client != nil
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// DatabaseName returns the configured database name.
func (c *Client) DatabaseName() string {
	return c.settings.Database
}

// Database returns the bound database, or nil while disconnected.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Collection returns a handle on the named collection, or nil while disconnected.
func (c *Client) Collection(name string) *mongo.Collection {
	if c.db == nil {
		return nil
	}
	return c.db.Collection(name)
}
