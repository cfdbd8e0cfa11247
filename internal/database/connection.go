// Package database opens the record source a configuration points at.
package database

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/backend/httpapi"
	"github.com/kadirbelkuyu/tablescope/internal/backend/mongoapi"
	"github.com/kadirbelkuyu/tablescope/internal/backend/pgapi"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

type Connection struct {
	API    backend.API
	Config *config.Config

	close func() error
}

// NewConnection validates cfg and connects to its source. Database sources
// are pinged before returning; the REST backend is contacted lazily.
func NewConnection(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Connection, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn := &Connection{Config: cfg, close: func() error { return nil }}

	switch cfg.Source.Type {
	case config.SourceHTTP:
		var tokens oauth2.TokenSource
		if token := cfg.Token(); token != "" {
			tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		}
		client, err := httpapi.New(httpapi.Options{
			BaseURL:     cfg.Source.BaseURL,
			TokenSource: tokens,
			Timeout:     cfg.Source.Timeout,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure REST client: %w", err)
		}
		conn.API = client

	case config.SourcePostgres:
		source, err := pgapi.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		conn.API = source
		conn.close = source.Close

	case config.SourceMongo:
		source, err := mongoapi.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		conn.API = source
		conn.close = source.Close

	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Source.Type)
	}

	log.WithField("source", conn.Describe()).Debug("source opened")
	return conn, nil
}

func (c *Connection) Close() error {
	return c.close()
}

// Ping checks the source when it supports a health check.
func (c *Connection) Ping(ctx context.Context) error {
	pinger, ok := c.API.(backend.Pinger)
	if !ok {
		return nil
	}
	return pinger.Ping(ctx)
}

// Describe is a human readable label of the source without credentials.
func (c *Connection) Describe() string {
	db := c.Config.Database
	switch c.Config.Source.Type {
	case config.SourceHTTP:
		return c.Config.Source.BaseURL
	case config.SourcePostgres:
		return fmt.Sprintf("postgres://%s:%d/%s", db.Host, db.Port, db.Database)
	case config.SourceMongo:
		return mongoapi.MaskURI(c.Config.GetMongoURI())
	}
	return c.Config.Source.Type
}

func (c *Connection) GetDatabaseName() string {
	if c.Config.Source.Type == config.SourceHTTP {
		return ""
	}
	return c.Config.Database.Database
}
