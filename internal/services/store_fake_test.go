package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charlesng35/guildstats/internal/cache"
)

// memoryStore is an in-memory cache.Store that records call counts and can be told to fail.
type memoryStore[D cache.Document] struct {
	mu      sync.Mutex
	docs    map[string]D
	finds   int
	upserts int
	deletes int

	findErr   error
	upsertErr error
}

func newMemoryStore[D cache.Document]() *memoryStore[D] {
	return &memoryStore[D]{docs: make(map[string]D)}
}

func (m *memoryStore[D]) FindOne(_ context.Context, id string) (D, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finds++
	var zero D
	if m.findErr != nil {
		return zero, false, m.findErr
	}
	doc, ok := m.docs[id]
	return doc, ok, nil
}

func (m *memoryStore[D]) UpsertReplace(_ context.Context, doc D) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.docs[doc.DocumentID()] = doc
	return nil
}

func (m *memoryStore[D]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	delete(m.docs, id)
	return nil
}

func (m *memoryStore[D]) put(doc D) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.DocumentID()] = doc
}

func (m *memoryStore[D]) get(id string) (D, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	return doc, ok
}

func (m *memoryStore[D]) findCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *memoryStore[D]) upsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *memoryStore[D]) failFind(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

func (m *memoryStore[D]) failUpsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// gatedStore holds every FindOne until release is closed or the call's ctx is done.
type gatedStore[D cache.Document] struct {
	*memoryStore[D]

	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
	entered   atomic.Int32
}

func newGatedStore[D cache.Document]() *gatedStore[D] {
	return &gatedStore[D]{
		memoryStore: newMemoryStore[D](),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore[D]) FindOne(ctx context.Context, id string) (D, bool, error) {
	g.entered.Add(1)
	g.startOnce.Do(func() { close(g.started) })

	select {
	case <-g.release:
		return g.memoryStore.FindOne(ctx, id)
	case <-ctx.Done():
		var zero D
		return zero, false, ctx.Err()
	}
}
