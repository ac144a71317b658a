package redis

import (
	"context"
	"fmt"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := client.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("unexpected get result %q %v", got, err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestScanDelRemovesOnlyMatchingKeys(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.pageSize = 2
	client := &Client{store: mock}

	for _, day := range []string{"2024-05-01", "2024-05-02", "2024-05-03"} {
		mock.data[client.VerificationEntriesKey(7, day)] = "[]"
	}
	other := client.VerificationEntriesKey(8, "2024-05-01")
	mock.data[other] = "[]"

	removed, err := client.ScanDel(ctx, client.VerificationEntriesPattern(7))
	if err != nil {
		t.Fatalf("scan del failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed keys, got %d", removed)
	}
	if len(mock.data) != 1 {
		t.Fatalf("expected only the other company key to remain, got %v", mock.data)
	}
	if _, ok := mock.data[other]; !ok {
		t.Fatalf("other company cache must survive")
	}
	if mock.scanCalls < 2 {
		t.Fatalf("expected cursor iteration, got %d scan calls", mock.scanCalls)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.VerificationEntriesKey(7, "2024-05-01"); got != "metrolog:verification_entries:7:2024-05-01" {
		t.Fatalf("unexpected listing key %s", got)
	}
	if got := client.VerificationEntriesPattern(7); got != "metrolog:verification_entries:7:*" {
		t.Fatalf("unexpected listing pattern %s", got)
	}
	if got := buildKey("a", " ", "b"); got != "metrolog:a:b" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
}

func TestZeroClientReturnsNotInitialized(t *testing.T) {
	var client *Client
	if err := client.Ping(context.Background()); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := client.ScanDel(context.Background(), "*"); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 5 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

type mockCmdable struct {
	data      map[string]string
	pageSize  int
	scanCalls int
	snapshot  []string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string), pageSize: 100}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Scan pages through a snapshot taken at cursor 0; the cursor is the offset of the next page.
func (m *mockCmdable) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	m.scanCalls++
	if cursor == 0 {
		m.snapshot = m.snapshot[:0]
		for key := range m.data {
			if ok, _ := path.Match(match, key); ok {
				m.snapshot = append(m.snapshot, key)
			}
		}
		sort.Strings(m.snapshot)
	}
	all := m.snapshot

	start := int(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + m.pageSize
	if end >= len(all) {
		return redis.NewScanCmdResult(all[start:], 0, nil)
	}
	return redis.NewScanCmdResult(all[start:end], uint64(end), nil)
}
