package state

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// backend. It exists for tests and for running the whole pipeline in a
// single process without a server.
type Memory struct {
	mu       sync.Mutex
	lists    map[string][]string
	hashes   map[string]map[string]string
	keys     map[string]memoryValue
	sets     map[string]map[string]struct{}
	counters map[string]int64
	subs     map[string][]*memorySubscription
	closed   bool
}

type memoryValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		lists:    make(map[string][]string),
		hashes:   make(map[string]map[string]string),
		keys:     make(map[string]memoryValue),
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]int64),
		subs:     make(map[string][]*memorySubscription),
	}
}

func (m *Memory) PushQueue(ctx context.Context, queue, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[queue] = append(m.lists[queue], value)
	return nil
}

func (m *Memory) PopQueue(ctx context.Context, queue string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked(queue)
}

// popLocked removes the oldest element. Holding the lock for the whole
// check-and-remove is what makes pop atomic: no two callers can ever
// receive the same element.
func (m *Memory) popLocked(queue string) (string, error) {
	items := m.lists[queue]
	if len(items) == 0 {
		return "", ErrEmpty
	}
	val := items[0]
	m.lists[queue] = items[1:]
	return val, nil
}

func (m *Memory) BPopQueue(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		val, err := m.popLocked(queue)
		m.mu.Unlock()
		if err == nil {
			return val, nil
		}
		if time.Now().After(deadline) {
			return "", ErrEmpty
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *Memory) QueueLen(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[queue])), nil
}

func (m *Memory) SetField(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) SetFields(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (m *Memory) GetField(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashes[key][field], nil
}

func (m *Memory) GetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = memoryValue{value: value}
	return nil
}

func (m *Memory) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = memoryValue{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.liveValueLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// liveValueLocked returns the value for key, expiring it lazily
func (m *Memory) liveValueLocked(key string) (string, bool) {
	v, ok := m.keys[key]
	if !ok {
		return "", false
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		delete(m.keys, key)
		return "", false
	}
	return v.value, true
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, hadKey := m.liveValueLocked(key)
	delete(m.keys, key)
	_, hadHash := m.hashes[key]
	delete(m.hashes, key)
	return hadKey || hadHash, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveValueLocked(key); ok {
		return true, nil
	}
	_, ok := m.hashes[key]
	return ok, nil
}

func (m *Memory) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	for k := range m.keys {
		if _, live := m.liveValueLocked(k); !live {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) AddToSet(ctx context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[set]
	if s == nil {
		s = make(map[string]struct{})
		m.sets[set] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *Memory) RemoveFromSet(ctx context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[set], member)
	return nil
}

func (m *Memory) SetMembers(ctx context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.sets[set]))
	for member := range m.sets[set] {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) Incr(ctx context.Context, counter string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter] += delta
	return m.counters[counter], nil
}

func (m *Memory) Publish(ctx context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs[channel] {
		select {
		case sub.ch <- message:
		default:
			// Subscriber is not keeping up; at-most-once delivery means
			// the message is dropped, and the reconciliation sweep will
			// pick up whatever it implied.
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySubscription{
		store:   m,
		channel: channel,
		ch:      make(chan string, 64),
	}
	m.subs[channel] = append(m.subs[channel], sub)
	return sub, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memorySubscription struct {
	store   *Memory
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memorySubscription) Next(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-time.After(timeout):
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		subs := s.store.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
