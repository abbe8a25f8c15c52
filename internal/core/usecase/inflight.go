package usecase

import "sync"

// noteLocks tracks at most one in-flight write per note id.
type noteLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newNoteLocks() *noteLocks {
	return &noteLocks{active: make(map[string]struct{})}
}

func (l *noteLocks) tryAcquire(id string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[id]; busy {
		return nil, false
	}
	l.active[id] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.active, id)
		l.mu.Unlock()
	}, true
}
