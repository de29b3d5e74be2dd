package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache/codec"
)

type fakeClient struct {
	kv   map[string]string
	list []string
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := f.kv[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) LRange(_ context.Context, _ string, start, stop int64) *goredis.StringSliceCmd {
	n := int64(len(f.list))
	if start >= n {
		return goredis.NewStringSliceResult([]string{}, nil)
	}
	if stop >= n {
		stop = n - 1
	}
	return goredis.NewStringSliceResult(f.list[start:stop+1], nil)
}

func TestGet(t *testing.T) {
	t.Parallel()

	src, err := New(Config{Client: &fakeClient{kv: map[string]string{"user:1": `{"name":"ada"}`}}})
	require.NoError(t, err)

	v, err := src.Get("user:1")(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "ada"}, v)

	_, err = src.Get("user:2")(context.Background())
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestList(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	for i := 1; i <= 5; i++ {
		fc.list = append(fc.list, fmt.Sprint(i))
	}
	src, err := New(Config{Client: fc, Codec: codec.JSON[any]{}})
	require.NoError(t, err)
	fetch := src.List("feed", 2)

	v, err := fetch(context.Background(), 1)
	require.NoError(t, err)
	p := v.(Page)
	require.Equal(t, []any{1.0, 2.0}, p.Items)
	require.Equal(t, 2, p.Next)
	require.Nil(t, p.Prev)

	v, err = fetch(context.Background(), 3)
	require.NoError(t, err)
	p = v.(Page)
	require.Equal(t, []any{5.0}, p.Items)
	require.Nil(t, p.Next)
	require.Equal(t, 2, p.Prev)

	_, err = fetch(context.Background(), "x")
	require.Error(t, err)
}

func TestNilClient(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNilClient)
}
