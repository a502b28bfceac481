package session

import (
	"context"
	"sync"
)

// KeyedMutex is a set of mutexes addressed by key. Locks for different
// keys never contend. Entries are dropped once no holder or waiter is
// left, so the set stays as small as the number of keys in use.
//
// The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	unlock, _ := k.LockContext(context.Background(), key)
	return unlock
}

// LockContext acquires the lock for key, giving up when ctx is done.
func (k *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	l := k.acquire(key)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}

func (k *KeyedMutex) acquire(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}

	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++

	return l
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
