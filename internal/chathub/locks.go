package chathub

import (
	"sort"
	"sync"
)

// userLocks serializes state transitions per user. Locks for several users
// are always taken in ascending id order.
type userLocks struct {
	mu      sync.Mutex
	entries map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{entries: make(map[int64]*userLock)}
}

// lock acquires the locks of ids (zero ids are ignored) and returns the
// function that releases them.
func (l *userLocks) lock(ids ...int64) func() {
	uniq := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		dup := false
		for _, u := range uniq {
			if u == id {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	held := make([]*userLock, 0, len(uniq))
	for _, id := range uniq {
		l.mu.Lock()
		e, ok := l.entries[id]
		if !ok {
			e = &userLock{}
			l.entries[id] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, id := range uniq {
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.entries, id)
			}
		}
		l.mu.Unlock()
	}
}
