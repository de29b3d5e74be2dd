// Package redis builds querycache fetchers that read from Redis.
//
// A plain key becomes a querycache.Fetcher (GET + codec); a list becomes a
// querycache.PageFetcher that reads fixed-size LRANGE windows.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/querycache"
	c "github.com/unkn0wn-root/querycache/codec"
)

var (
	ErrNilClient = errors.New("redis source: nil client")
	// ErrNotFound is returned by Get fetchers when the key does not exist.
	ErrNotFound = errors.New("redis source: key not found")
)

// Client is the subset of goredis.UniversalClient the fetchers use.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
}

type Source struct {
	rdb   Client
	codec c.Codec[any]
}

type Config struct {
	Client Client
	Codec  c.Codec[any] // nil => codec.JSON[any]
}

func New(cfg Config) (*Source, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Source{rdb: cfg.Client, codec: cfg.Codec}
	if s.codec == nil {
		s.codec = c.JSON[any]{}
	}
	return s, nil
}

// Get returns a fetcher reading key and decoding it with the source codec.
// A missing key fails with ErrNotFound.
func (s *Source) Get(key string) querycache.Fetcher {
	return func(ctx context.Context) (any, error) {
		b, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return nil, err
		}
		return s.codec.Decode(b)
	}
}

// Page is the record a list fetcher produces. Next is nil on the last page
// and Prev is nil on the first, so "next" and "prev" work as page paths.
type Page struct {
	Items []any `json:"items"`
	Next  any   `json:"next"`
	Prev  any   `json:"prev"`
}

// List returns a page fetcher over the Redis list at key, size elements per
// page. Page params are 1-based integers.
func (s *Source) List(key string, size int) querycache.PageFetcher {
	return func(ctx context.Context, param any) (any, error) {
		n, ok := param.(int)
		if !ok || n < 1 {
			return nil, fmt.Errorf("redis source: page param %v is not a positive int", param)
		}
		if size <= 0 {
			return nil, fmt.Errorf("redis source: page size %d", size)
		}
		start := int64(n-1) * int64(size)
		// one extra element tells whether a next page exists
		raw, err := s.rdb.LRange(ctx, key, start, start+int64(size)).Result()
		if err != nil {
			return nil, err
		}

		p := Page{Items: make([]any, 0, size)}
		for i, r := range raw {
			if i == size {
				p.Next = n + 1
				break
			}
			v, err := s.codec.Decode([]byte(r))
			if err != nil {
				return nil, fmt.Errorf("redis source: decode %s[%d]: %w", key, start+int64(i), err)
			}
			p.Items = append(p.Items, v)
		}
		if n > 1 {
			p.Prev = n - 1
		}
		return p, nil
	}
}
