// Package service contains the application services behind the gRPC API:
// category, event and holiday CRUD, external calendar sync and the year view.
package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karthikpasupathy/yearview/internal/errs"
)

// Option customises a service.
type Option func(*base)

// WithLogger sets the logger. Services default to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type base struct {
	log *zap.Logger
	now func() time.Time
}

func newBase(opts []Option) base {
	b := base{log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func requireUser(userID string) error {
	if userID == "" {
		return errs.ErrNotAuthenticated
	}
	return nil
}

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

func validateColor(c string) error {
	if !colorRe.MatchString(c) {
		return fmt.Errorf("%w: color %q is not #RRGGBB", errs.ErrValidation, c)
	}
	return nil
}

func validateName(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty %s", errs.ErrValidation, field)
	}
	return v, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex { return &keyedMutex{locks: map[string]*refLock{}} }

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func lockKey(parts ...string) string { return strings.Join(parts, "\x00") }
