// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"sync"
)

// MemoryPort is an in-memory Port implementation. It is durable only for
// the lifetime of the process; use it for tests and for registries that
// don't need to survive a restart.
type MemoryPort struct {
	mu      sync.RWMutex
	records map[string]*PersistentContext
}

var _ Port = (*MemoryPort)(nil)

// NewMemoryPort returns an empty MemoryPort.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{
		records: make(map[string]*PersistentContext),
	}
}

// Initialize is a no-op for MemoryPort.
func (p *MemoryPort) Initialize(_ context.Context) error {
	return nil
}

// Save upserts pc by pc.ID.
func (p *MemoryPort) Save(_ context.Context, pc *PersistentContext) error {
	if pc == nil || pc.ID == "" {
		return NewError("save", "", false, ErrMissingID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[pc.ID] = pc.Clone()
	return nil
}

// Load returns the stored context for id, if any.
func (p *MemoryPort) Load(_ context.Context, id string) (*PersistentContext, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pc, ok := p.records[id]
	if !ok {
		return nil, false, nil
	}
	return pc.Clone(), true, nil
}

// Len returns the number of records currently stored, for tests and
// diagnostics.
func (p *MemoryPort) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}
