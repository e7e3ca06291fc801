package usecase

import (
	"context"
	"hash/fnv"
)

// stripedLock serializes writers per key name without a global lock. Names hashing to
// the same stripe share a lock, which only costs throughput.
type stripedLock struct {
	stripes []chan struct{}
}

func newStripedLock(n int) *stripedLock {
	if n < 1 {
		n = 1
	}
	stripes := make([]chan struct{}, n)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &stripedLock{stripes: stripes}
}

func (l *stripedLock) stripe(name string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// lock blocks until the stripe for name is held or ctx is done.
func (l *stripedLock) lock(ctx context.Context, name string) (func(), error) {
	s := l.stripe(name)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
