package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingResource tracks one resource waiting for a transfer slot.
type PendingResource struct {
	Resource      Resource  `json:"-"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Size          uint32    `json:"size"`
	Attempts      int       `json:"attempts"`
	QueuedAt      time.Time `json:"queued_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	NotBefore     time.Time `json:"not_before,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	seq uint64
}

// ResourceOutbox holds deferred resources keyed by Resource.ID and hands
// them out in discovery order.
type ResourceOutbox struct {
	mu    sync.RWMutex
	seq   uint64
	items map[string]PendingResource
}

func NewResourceOutbox() *ResourceOutbox {
	return &ResourceOutbox{
		items: make(map[string]PendingResource),
	}
}

// Enqueue adds res unless a resource with the same ID is already pending.
func (o *ResourceOutbox) Enqueue(res Resource, at time.Time) bool {
	key := strings.TrimSpace(res.ID)
	if key == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.items[key]; ok {
		return false
	}
	o.seq++
	o.items[key] = PendingResource{
		Resource: res,
		ID:       key,
		Name:     res.Name,
		Size:     res.Size,
		QueuedAt: at,
		seq:      o.seq,
	}
	return true
}

func (o *ResourceOutbox) MarkAttempt(id string, at, notBefore time.Time, lastErr string) (PendingResource, bool) {
	key := strings.TrimSpace(id)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingResource{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.NotBefore = notBefore
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *ResourceOutbox) Remove(id string) {
	key := strings.TrimSpace(id)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *ResourceOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// List returns pending resources in discovery order.
func (o *ResourceOutbox) List() []PendingResource {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingResource, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

func (p PendingResource) ready(now time.Time) bool {
	return p.NotBefore.IsZero() || !now.Before(p.NotBefore)
}
