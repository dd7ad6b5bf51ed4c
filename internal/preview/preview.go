// Package preview hands out revocable display handles for image bytes.
// A handle stays resolvable until it is released; releasing twice is an error.
package preview

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const handlePrefix = "blob:"

var (
	ErrUnknownHandle = errors.New("unknown preview handle")
	ErrReleased      = errors.New("preview handle already released")
)

// Handle identifies a live preview.
type Handle string

// ID returns the handle without its scheme, suitable for URLs.
func (h Handle) ID() string {
	return strings.TrimPrefix(string(h), handlePrefix)
}

// Object is the content behind a handle.
type Object struct {
	Data     []byte
	MIMEType string
}

// Registry tracks live handles. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	live     map[Handle]Object
	released map[Handle]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[Handle]Object),
		released: make(map[Handle]struct{}),
	}
}

// Acquire registers data and returns a fresh handle for it.
func (r *Registry) Acquire(data []byte, mimeType string) Handle {
	h := Handle(handlePrefix + uuid.NewString())
	r.mu.Lock()
	r.live[h] = Object{Data: data, MIMEType: mimeType}
	r.mu.Unlock()
	return h
}

// Release frees the content behind h.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; ok {
		delete(r.live, h)
		r.released[h] = struct{}{}
		return nil
	}
	if _, ok := r.released[h]; ok {
		return ErrReleased
	}
	return ErrUnknownHandle
}

// Open returns the content behind h while it is live.
func (r *Registry) Open(h Handle) (Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.live[h]
	if !ok {
		if _, gone := r.released[h]; gone {
			return Object{}, ErrReleased
		}
		return Object{}, ErrUnknownHandle
	}
	return obj, nil
}

// OpenID is Open keyed by the bare id used in URLs.
func (r *Registry) OpenID(id string) (Object, error) {
	return r.Open(Handle(handlePrefix + id))
}

// Live returns the number of handles not yet released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
