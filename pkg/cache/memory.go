package cache

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memoryValue struct {
	value     string
	expiresAt time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

type memoryZSet struct {
	mu      sync.Mutex
	members map[string]float64
}

// MemoryClient is an in-process Client. Each key is updated through xsync's per-key
// Compute, which gives the same single-key atomicity Redis provides natively.
type MemoryClient struct {
	values *xsync.Map[string, memoryValue]
	hashes *xsync.Map[string, *xsync.Map[string, string]]
	zsets  *xsync.Map[string, *memoryZSet]
	sets   *xsync.Map[string, *xsync.Map[string, struct{}]]
	now    func() time.Time

	// once serializes IncrByOnce, whose check spans two keys.
	once sync.Mutex
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient returns an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		values: xsync.NewMap[string, memoryValue](),
		hashes: xsync.NewMap[string, *xsync.Map[string, string]](),
		zsets:  xsync.NewMap[string, *memoryZSet](),
		sets:   xsync.NewMap[string, *xsync.Map[string, struct{}]](),
		now:    time.Now,
	}
}

func (m *MemoryClient) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values.Load(key)
	if !ok || v.expired(m.now()) {
		return "", false, nil
	}
	return v.value, true, nil
}

func (m *MemoryClient) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok, _ := m.Get(ctx, key)
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

func (m *MemoryClient) Set(_ context.Context, key, value string) error {
	m.values.Store(key, memoryValue{value: value})
	return nil
}

func (m *MemoryClient) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := m.now()
	stored := false
	m.values.Compute(key, func(old memoryValue, loaded bool) (memoryValue, xsync.ComputeOp) {
		if loaded && !old.expired(now) {
			return old, xsync.CancelOp
		}
		next := memoryValue{value: value}
		if ttl > 0 {
			next.expiresAt = now.Add(ttl)
		}
		stored = true
		return next, xsync.UpdateOp
	})
	return stored, nil
}

func (m *MemoryClient) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var (
		result int64
		err    error
	)
	now := m.now()
	m.values.Compute(key, func(old memoryValue, loaded bool) (memoryValue, xsync.ComputeOp) {
		var (
			cur       int64
			expiresAt time.Time
		)
		if loaded && !old.expired(now) {
			cur, err = strconv.ParseInt(old.value, 10, 64)
			if err != nil {
				return old, xsync.CancelOp
			}
			expiresAt = old.expiresAt
		}
		result = cur + delta
		return memoryValue{value: strconv.FormatInt(result, 10), expiresAt: expiresAt}, xsync.UpdateOp
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

func (m *MemoryClient) IncrByOnce(
	ctx context.Context,
	marker, markerValue string,
	ttl time.Duration,
	key string,
	delta int64,
) (int64, bool, error) {
	m.once.Lock()
	defer m.once.Unlock()

	if _, seen, _ := m.Get(ctx, marker); seen {
		raw, ok, _ := m.Get(ctx, key)
		if !ok {
			return 0, false, nil
		}
		cur, err := strconv.ParseInt(raw, 10, 64)
		return cur, false, err
	}
	total, err := m.IncrBy(ctx, key, delta)
	if err != nil {
		return 0, false, err
	}
	next := memoryValue{value: markerValue}
	if ttl > 0 {
		next.expiresAt = m.now().Add(ttl)
	}
	m.values.Store(marker, next)
	return total, true, nil
}

func (m *MemoryClient) hash(key string) *xsync.Map[string, string] {
	h, _ := m.hashes.LoadOrStore(key, xsync.NewMap[string, string]())
	return h
}

func (m *MemoryClient) HGet(_ context.Context, key, field string) (string, bool, error) {
	h, ok := m.hashes.Load(key)
	if !ok {
		return "", false, nil
	}
	v, ok := h.Load(field)
	return v, ok, nil
}

func (m *MemoryClient) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	_, loaded := m.hash(key).LoadOrStore(field, value)
	return !loaded, nil
}

func (m *MemoryClient) HIncrByNonNegative(_ context.Context, key, field string, delta int64) (int64, error) {
	var (
		result int64
		err    error
	)
	m.hash(key).Compute(field, func(old string, loaded bool) (string, xsync.ComputeOp) {
		var cur int64
		if loaded {
			cur, err = strconv.ParseInt(old, 10, 64)
			if err != nil {
				return old, xsync.CancelOp
			}
		}
		next := cur + delta
		if next < 0 {
			result, err = cur, ErrNegativeResult
			return old, xsync.CancelOp
		}
		result = next
		if next == 0 {
			return "", xsync.DeleteOp
		}
		return strconv.FormatInt(next, 10), xsync.UpdateOp
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (m *MemoryClient) ZAdd(_ context.Context, key string, score float64, member string) error {
	z, _ := m.zsets.LoadOrStore(key, &memoryZSet{members: map[string]float64{}})
	z.mu.Lock()
	z.members[member] = score
	z.mu.Unlock()
	return nil
}

func (m *MemoryClient) ZMaxMemberAtOrBelow(_ context.Context, key string, max float64) (string, bool, error) {
	z, ok := m.zsets.Load(key)
	if !ok {
		return "", false, nil
	}
	z.mu.Lock()
	defer z.mu.Unlock()

	best, bestScore, found := "", math.Inf(-1), false
	for member, score := range z.members {
		if score > max {
			continue
		}
		// Equal scores resolve to the lexicographically greatest member, as ZREVRANGEBYSCORE does.
		if !found || score > bestScore || (score == bestScore && member > best) {
			best, bestScore, found = member, score, true
		}
	}
	return best, found, nil
}

func (m *MemoryClient) SAdd(_ context.Context, key string, members ...string) error {
	s, _ := m.sets.LoadOrStore(key, xsync.NewMap[string, struct{}]())
	for _, member := range members {
		s.Store(member, struct{}{})
	}
	return nil
}

func (m *MemoryClient) SMembers(_ context.Context, key string) ([]string, error) {
	s, ok := m.sets.Load(key)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, s.Size())
	s.Range(func(member string, _ struct{}) bool {
		out = append(out, member)
		return true
	})
	return out, nil
}

func (m *MemoryClient) Ping(context.Context) error { return nil }
