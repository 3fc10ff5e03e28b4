// Package redis provides a Redis-backed request-number sequence.
//
// Several API processes sharing one SQLite file cannot hand out request
// numbers safely on their own; INCR on a shared Redis key can.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the last issued request number.
const DefaultKey = "procurement:request_number"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, opts Options) (*goredis.Client, error) {
	var tlsConf *tls.Config
	if opts.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Sequence implements procurement.Sequencer with INCR.
type Sequence struct {
	client goredis.Cmdable
	key    string
}

// NewSequence returns a sequence stored under key (DefaultKey when empty).
func NewSequence(client goredis.Cmdable, key string) *Sequence {
	if key == "" {
		key = DefaultKey
	}
	return &Sequence{client: client, key: key}
}

// Seed makes sure the next number handed out is greater than floor. It never
// lowers an existing counter.
func (s *Sequence) Seed(ctx context.Context, floor int64) error {
	const raiseTo = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return current`
	if err := s.client.Eval(ctx, raiseTo, []string{s.key}, floor).Err(); err != nil {
		return fmt.Errorf("seeding %s: %w", s.key, err)
	}
	return nil
}

// NextRequestNumber increments and returns the counter.
func (s *Sequence) NextRequestNumber(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", s.key, err)
	}
	return n, nil
}
