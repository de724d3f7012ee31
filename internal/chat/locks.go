package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrConversationBusy = errors.New("conversation is busy with another request")

const defaultLockWait = 5 * time.Second

// conversationLocks serializes runs against the same conversation within one
// process. A second writer waits up to maxWait for the holder to finish, then
// gets ErrConversationBusy. For horizontal scaling, replace with
// pg_advisory_xact_lock.
type conversationLocks struct {
	maxWait time.Duration

	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newConversationLocks(maxWait time.Duration) *conversationLocks {
	if maxWait <= 0 {
		maxWait = defaultLockWait
	}
	return &conversationLocks{
		maxWait: maxWait,
		entries: make(map[string]*lockEntry),
	}
}

// acquire blocks until the conversation lock is held or the wait budget runs
// out. The returned release func is safe to call more than once.
func (l *conversationLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[conversationID]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := entry.sem.Acquire(waitCtx, 1); err != nil {
		l.drop(conversationID, entry, false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		conversationBusyTotal.Inc()
		return nil, ErrConversationBusy
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.drop(conversationID, entry, true)
		})
	}
	return release, nil
}

func (l *conversationLocks) drop(conversationID string, entry *lockEntry, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held {
		entry.sem.Release(1)
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, conversationID)
	}
}
