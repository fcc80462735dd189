// Package publish announces new breadth records to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"mbi/internal/breadth"
	"mbi/internal/domain"
)

// Publisher announces a stored record.
type Publisher interface {
	Publish(ctx context.Context, rec domain.BreadthRecord) error
	Close() error
}

// Message is the JSON document published for each record. Values are keyed
// by ledger column name.
type Message struct {
	Date   string             `json:"date"`
	Values map[string]float64 `json:"values"`
}

// NewMessage builds the message of rec under schema.
func NewMessage(schema breadth.Schema, rec domain.BreadthRecord) Message {
	return Message{Date: domain.FormatDate(rec.Date), Values: schema.Values(rec)}
}

// Nop discards records.
type Nop struct{}

func (Nop) Publish(context.Context, domain.BreadthRecord) error { return nil }
func (Nop) Close() error                                       { return nil }

// RedisConfig configures RedisPublisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string // pub/sub channel; empty disables publishing
	Key      string // key holding the latest message; empty disables it
}

// RedisPublisher publishes each record on a channel and keeps the latest
// one under a key.
type RedisPublisher struct {
	client *goredis.Client
	cfg    RedisConfig
	schema breadth.Schema
	log    *slog.Logger
}

// NewRedisPublisher connects to Redis and pings it.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, schema breadth.Schema) (*RedisPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	l := slog.Default().With("component", "publish")
	l.Info("connected to redis", "addr", cfg.Addr)
	return &RedisPublisher{client: client, cfg: cfg, schema: schema, log: l}, nil
}

// Publish sends rec on the channel and stores it under the key.
func (p *RedisPublisher) Publish(ctx context.Context, rec domain.BreadthRecord) error {
	data, err := json.Marshal(NewMessage(p.schema, rec))
	if err != nil {
		return err
	}
	if p.cfg.Key != "" {
		if err := p.client.Set(ctx, p.cfg.Key, data, 0).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", p.cfg.Key, err)
		}
	}
	if p.cfg.Channel != "" {
		if err := p.client.Publish(ctx, p.cfg.Channel, data).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", p.cfg.Channel, err)
		}
	}
	p.log.Debug("published", "date", domain.FormatDate(rec.Date))
	return nil
}

// Close closes the client.
func (p *RedisPublisher) Close() error { return p.client.Close() }
