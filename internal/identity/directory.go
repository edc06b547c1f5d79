// Package identity resolves caller numbers to durable identity names and
// owns the enrollment protocol that links new callers.
//
// Two tables exist. The static table is operator-defined and read-only. The
// dynamic table is mutated only by Enroll and persisted through a Store.
// Enrollments run one at a time, in arrival order, on a single worker
// goroutine; reads never wait for that worker.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrMissingField = errors.New("name and peerId are required")
	ErrClosed       = errors.New("identity directory is closed")
)

const enrollmentQueueSize = 64

// Resolution is the result of looking a caller up.
type Resolution struct {
	IsFirstCall bool   `json:"isFirstCall"`
	Identity    string `json:"identity,omitempty"`
}

type enrollment struct {
	ctx      context.Context
	name     string
	peerID   string
	channels []string
	result   chan error
}

// Directory holds the static and dynamic identity tables.
type Directory struct {
	static Links

	mu      sync.RWMutex
	dynamic Links

	store Store

	queue     chan *enrollment
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewDirectory creates a directory and starts its enrollment worker. dynamic
// is the table as loaded from store; both tables are copied.
func NewDirectory(static, dynamic Links, store Store) *Directory {
	if static == nil {
		static = Links{}
	}
	if dynamic == nil {
		dynamic = Links{}
	}
	if store == nil {
		store = NewMemoryStore(nil)
	}

	d := &Directory{
		static:  static.Clone(),
		dynamic: dynamic.Clone(),
		store:   store,
		queue:   make(chan *enrollment, enrollmentQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Load builds a directory from whatever store currently holds.
func Load(ctx context.Context, static Links, store Store) (*Directory, error) {
	dynamic, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity links: %w", err)
	}
	return NewDirectory(static, dynamic, store), nil
}

// Close stops the enrollment worker. Pending enrollments that have not
// started fail with ErrClosed.
func (d *Directory) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		<-d.stopped
	})
}

func (d *Directory) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			d.drain()
			return
		case job := <-d.queue:
			job.result <- d.apply(job)
		}
	}
}

func (d *Directory) drain() {
	for {
		select {
		case job := <-d.queue:
			job.result <- ErrClosed
		default:
			return
		}
	}
}

// Resolve looks peerID up in the dynamic table, comparing sip-voice numbers
// with any leading '+' removed on both sides.
func (d *Directory) Resolve(peerID string) Resolution {
	normalized := NormalizeNumber(peerID)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if normalized != "" {
		for _, name := range d.dynamic.Names() {
			for _, ch := range d.dynamic[name] {
				number, ok := voiceNumber([]string{ch})
				if !ok {
					continue
				}
				if NormalizeNumber(number) == normalized {
					logger.Base().Debug("identity resolved", zap.String("identity", name))
					return Resolution{IsFirstCall: false, Identity: name}
				}
			}
		}
	}

	logger.Base().Debug("no identity match, first call")
	return Resolution{IsFirstCall: true}
}

// ResolveIdentity is Resolve for request paths: it fails once the directory
// is closed or ctx is done.
func (d *Directory) ResolveIdentity(ctx context.Context, peerID string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	select {
	case <-d.done:
		return Resolution{}, ErrClosed
	default:
	}
	return d.Resolve(peerID), nil
}

// Enroll links peerID (and any extra channels) to name. Enrollments are
// applied strictly one at a time in the order they were submitted. If the
// store rejects the write, the in-memory table is restored for that name.
func (d *Directory) Enroll(ctx context.Context, name, peerID string, channels []string) (string, error) {
	if name == "" || peerID == "" {
		return "", ErrMissingField
	}

	job := &enrollment{
		ctx:      ctx,
		name:     name,
		peerID:   peerID,
		channels: append([]string(nil), channels...),
		result:   make(chan error, 1),
	}

	select {
	case <-d.done:
		return "", ErrClosed
	default:
	}
	select {
	case <-d.done:
		return "", ErrClosed
	case d.queue <- job:
	}

	// A job queued while the worker was exiting is never picked up.
	var err error
	select {
	case err = <-job.result:
	case <-d.stopped:
		select {
		case err = <-job.result:
		default:
			err = ErrClosed
		}
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

func (d *Directory) apply(job *enrollment) error {
	entry := append([]string{VoiceChannel(job.peerID)}, job.channels...)

	d.mu.Lock()
	prev, existed := d.dynamic[job.name]
	d.dynamic[job.name] = entry
	snapshot := d.dynamic.Clone()
	d.mu.Unlock()

	if err := d.store.Save(job.ctx, snapshot); err != nil {
		d.mu.Lock()
		if existed {
			d.dynamic[job.name] = prev
		} else {
			delete(d.dynamic, job.name)
		}
		d.mu.Unlock()

		logger.Base().Error("identity enrollment failed", zap.String("name", job.name), zap.Error(err))
		return fmt.Errorf("failed to persist identity link: %w", err)
	}

	logger.Base().Info("identity enrolled", zap.String("name", job.name), zap.Int("channel_count", len(entry)))
	return nil
}

// CallbackNumber returns the number of the first sip-voice entry for name,
// checking the static table before the dynamic one.
func (d *Directory) CallbackNumber(name string) (string, bool) {
	if number, ok := voiceNumber(d.static[name]); ok {
		return number, true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return voiceNumber(d.dynamic[name])
}

// UserChannels returns the non-voice channels linked to name, checking the
// static table before the dynamic one. The first table with any wins.
func (d *Directory) UserChannels(name string) []string {
	if name == "" {
		return nil
	}
	if channels := otherChannels(d.static[name]); len(channels) > 0 {
		return channels
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return otherChannels(d.dynamic[name])
}

// Dynamic returns a copy of the dynamic table.
func (d *Directory) Dynamic() Links {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dynamic.Clone()
}

// StaticCount returns the number of operator-defined identities.
func (d *Directory) StaticCount() int {
	return len(d.static)
}
