package services

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedMutex serializes work per key. Lock entries are reference counted and dropped once
// the last holder or waiter releases them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Lock waits until key is free or ctx is done. On success it returns the matching unlock
// func; on cancellation it returns ctx.Err() and holds nothing.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		k.release(key, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		k.release(key, lock)
	}, nil
}

func (k *keyedMutex) release(key string, lock *keyedLock) {
	k.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
