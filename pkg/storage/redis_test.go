package storage

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockRedisStatusCmd struct{ err error }

func (c mockRedisStatusCmd) Err() error { return c.err }

type mockRedisStringCmd struct {
	data []byte
	err  error
}

func (c mockRedisStringCmd) Bytes() ([]byte, error) { return c.data, c.err }
func (c mockRedisStringCmd) Err() error             { return c.err }

type mockRedisIntCmd struct{ err error }

func (c mockRedisIntCmd) Err() error { return c.err }

type mockRedisStringSliceCmd struct {
	vals []string
	err  error
}

func (c mockRedisStringSliceCmd) Result() ([]string, error) { return c.vals, c.err }

type mockRedisSetCall struct {
	key        string
	value      interface{}
	expiration time.Duration
}

type mockRedisPipeline struct {
	client *mockRedisClient
	sets   []mockRedisSetCall
	err    error
}

func (p *mockRedisPipeline) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd {
	p.sets = append(p.sets, mockRedisSetCall{key: key, value: value, expiration: expiration})
	return mockRedisStatusCmd{}
}

func (p *mockRedisPipeline) Exec(ctx context.Context) ([]interface{}, error) {
	if p.err != nil {
		return nil, p.err
	}
	for _, s := range p.sets {
		p.client.Set(ctx, s.key, s.value, s.expiration)
	}
	p.client.mu.Lock()
	p.client.execs++
	p.client.mu.Unlock()
	return nil, nil
}

// mockRedisClient is an in-memory RedisClient.
type mockRedisClient struct {
	mu sync.Mutex

	data  map[string][]byte
	sets  []mockRedisSetCall
	execs int

	pipeErr error
	getErr  error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string][]byte)}
}

func (c *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, mockRedisSetCall{key: key, value: value, expiration: expiration})
	c.data[key] = value.([]byte)
	return mockRedisStatusCmd{}
}

func (c *mockRedisClient) Get(ctx context.Context, key string) RedisStringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return mockRedisStringCmd{err: c.getErr}
	}
	data, ok := c.data[key]
	if !ok {
		return mockRedisStringCmd{err: ErrRedisNil}
	}
	return mockRedisStringCmd{data: data}
}

func (c *mockRedisClient) Del(ctx context.Context, keys ...string) RedisIntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return mockRedisIntCmd{}
}

func (c *mockRedisClient) Keys(ctx context.Context, pattern string) RedisStringSliceCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return mockRedisStringSliceCmd{vals: out}
}

func (c *mockRedisClient) Pipeline() RedisPipeliner {
	return &mockRedisPipeline{client: c, err: c.pipeErr}
}

func (c *mockRedisClient) Close() error { return nil }

func TestRedisStore_PrefixAndKeying(t *testing.T) {
	store := NewRedisStore(newMockRedisClient(), WithRedisPrefix("pfx:"))

	if store.Prefix() != "pfx:" {
		t.Fatalf("Prefix() got %q", store.Prefix())
	}
	if store.key("abc") != "pfx:abc" {
		t.Fatalf("key() got %q", store.key("abc"))
	}
	if NewRedisStore(newMockRedisClient()).Prefix() != "fluxio:" {
		t.Fatal("expected default prefix fluxio:")
	}
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	store := NewRedisStore(client, WithRedisTTL(time.Hour))

	if err := store.Save(ctx, "theme", []byte(`"dark"`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	client.mu.Lock()
	call := client.sets[0]
	client.mu.Unlock()
	if call.key != "fluxio:theme" || call.expiration != time.Hour {
		t.Fatalf("Set() got key %q expiration %v", call.key, call.expiration)
	}

	data, err := store.Load(ctx, "theme")
	if err != nil || string(data) != `"dark"` {
		t.Fatalf("Load() got %q, %v", data, err)
	}

	if err := store.Delete(ctx, "theme"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	data, err = store.Load(ctx, "theme")
	if err != nil || data != nil {
		t.Fatalf("Load() after Delete got %v, %v want nil, nil", data, err)
	}
}

func TestRedisStore_Load_BackendError(t *testing.T) {
	client := newMockRedisClient()
	client.getErr = errors.New("connection refused")
	store := NewRedisStore(client)

	if _, err := store.Load(context.Background(), "k"); err == nil {
		t.Fatal("Load() expected backend error, got nil")
	}
}

func TestRedisStore_KeysStripsPrefix(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	client.data["other:x"] = []byte("1")
	store := NewRedisStore(client)

	_ = store.Save(ctx, "b", []byte("2"))
	_ = store.Save(ctx, "a", []byte("1"))

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("Keys() got %v", keys)
	}
}

func TestRedisStore_SaveAll_Pipelines(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	store := NewRedisStore(client)

	if err := store.SaveAll(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
		t.Fatalf("SaveAll() error: %v", err)
	}

	client.mu.Lock()
	execs, stored := client.execs, len(client.data)
	client.mu.Unlock()
	if execs != 1 || stored != 2 {
		t.Fatalf("expected one pipeline with 2 values, got %d execs and %d values", execs, stored)
	}

	client.pipeErr = errors.New("pipeline failed")
	if err := store.SaveAll(ctx, map[string][]byte{"c": []byte("3")}); err == nil {
		t.Fatal("SaveAll() expected pipeline error, got nil")
	}
}

func TestRedisStore_Close_MakesOperationsFail(t *testing.T) {
	store := NewRedisStore(newMockRedisClient())
	_ = store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, "k", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save() got %v want ErrClosed", err)
	}
	if _, err := store.Load(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load() got %v want ErrClosed", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Delete() got %v want ErrClosed", err)
	}
	if _, err := store.Keys(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Keys() got %v want ErrClosed", err)
	}
	if err := store.SaveAll(ctx, map[string][]byte{"k": nil}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SaveAll() got %v want ErrClosed", err)
	}
}
