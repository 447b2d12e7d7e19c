// Package tasklock implements the Distributed Lock (C2): per-task
// mutual exclusion with a TTL and a unique release token, backed by the
// same store used for task/activity/position state.
package tasklock

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polytrace/copytrader/internal/store"
)

const keyPrefix = "task-lock:"

func key(taskID string) []byte { return []byte(keyPrefix + taskID) }

type entry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Lock is a SET-if-absent, compare-and-delete mutex keyed by taskId.
// Pebble has no native key TTL, so expiry is enforced in application
// logic: Acquire treats an existing entry whose ExpiresAt has passed as
// absent and overwrites it. The scheduler's worker pool lives in one
// process, so the read-then-write against pebble is additionally
// guarded by an in-process per-taskId mutex — pebble's Get/Set give no
// compare-and-swap, so without it two workers racing the same taskId
// could both observe "absent" before either writes and both proceed.
type Lock struct {
	db *store.Store

	mu      sync.Mutex
	perTask map[string]*sync.Mutex
}

// New constructs a Lock over the shared store.
func New(db *store.Store) *Lock {
	return &Lock{db: db, perTask: make(map[string]*sync.Mutex)}
}

// taskMutex returns the in-process mutex guarding taskId, creating it
// on first use.
func (l *Lock) taskMutex(taskID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.perTask[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.perTask[taskID] = m
	}
	return m
}

// Acquire attempts to take the lock for taskId with the given TTL. On
// success it returns a unique token and true. On contention (a live,
// unexpired holder, in this process or reflected in the store from
// another) it returns false without blocking — contention policy is
// SKIP, never wait.
func (l *Lock) Acquire(taskID string, ttl time.Duration) (string, bool, error) {
	tm := l.taskMutex(taskID)
	tm.Lock()
	defer tm.Unlock()

	k := key(taskID)
	raw, err := l.db.Get(k)
	if err != nil && err != store.ErrNotFound {
		return "", false, fmt.Errorf("tasklock: read %s: %w", taskID, err)
	}
	if err == nil {
		var existing entry
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr == nil {
			if time.Now().Before(existing.ExpiresAt) {
				return "", false, nil // held and not expired: contention, skip
			}
		}
	}

	token := uuid.NewString()
	e := entry{Token: token, ExpiresAt: time.Now().Add(ttl)}
	b, err := json.Marshal(e)
	if err != nil {
		return "", false, fmt.Errorf("tasklock: marshal entry: %w", err)
	}
	if err := l.db.Set(k, b); err != nil {
		return "", false, fmt.Errorf("tasklock: write %s: %w", taskID, err)
	}
	return token, true, nil
}

// Release deletes the lock entry for taskId only if its stored token
// still matches, preventing a caller from releasing a lock that expired
// and was re-acquired by someone else.
func (l *Lock) Release(taskID, token string) error {
	tm := l.taskMutex(taskID)
	tm.Lock()
	defer tm.Unlock()

	k := key(taskID)
	raw, err := l.db.Get(k)
	if err == store.ErrNotFound {
		return nil // already gone
	}
	if err != nil {
		return fmt.Errorf("tasklock: read %s: %w", taskID, err)
	}
	var existing entry
	if jsonErr := json.Unmarshal(raw, &existing); jsonErr != nil {
		return fmt.Errorf("tasklock: unmarshal entry %s: %w", taskID, jsonErr)
	}
	if existing.Token != token {
		return nil // someone else holds it now; not our lock to release
	}
	if err := l.db.Delete(k); err != nil {
		return fmt.Errorf("tasklock: delete %s: %w", taskID, err)
	}
	return nil
}

// ErrSkipped is returned by WithLock when the lock could not be
// acquired; callers treat this as "tick skipped, will re-fire".
var ErrSkipped = fmt.Errorf("tasklock: contention, tick skipped")

// WithLock acquires the lock for taskId, runs f, and releases the lock
// even if f panics. Returns ErrSkipped if the lock is already held.
func (l *Lock) WithLock(taskID string, ttl time.Duration, f func() error) (err error) {
	token, ok, acquireErr := l.Acquire(taskID, ttl)
	if acquireErr != nil {
		return acquireErr
	}
	if !ok {
		return ErrSkipped
	}
	defer func() {
		if releaseErr := l.Release(taskID, token); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return f()
}
