package scheduler

import (
	"context"
	"sync"
	"time"

	"gold-tracker/internal/collector"
)

// Outcome is the raw collection result handed to post-processors.
type Outcome struct {
	Task  TaskResult
	Date  time.Time
	Metal *collector.MetalResult
	FX    *collector.FXResult
}

// Processor observes collection outcomes. Failures are logged and never
// affect the task result.
type Processor interface {
	Name() string
	Process(ctx context.Context, out Outcome) error
}

type funcProcessor struct {
	name string
	fn   func(ctx context.Context, out Outcome) error
}

func (p funcProcessor) Name() string { return p.name }

func (p funcProcessor) Process(ctx context.Context, out Outcome) error { return p.fn(ctx, out) }

// ProcessorFunc adapts a function into a named Processor.
func ProcessorFunc(name string, fn func(ctx context.Context, out Outcome) error) Processor {
	return funcProcessor{name: name, fn: fn}
}

// Registry holds post-processors in registration order.
type Registry struct {
	mu         sync.RWMutex
	processors []Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p unless a processor with the same name is registered.
func (r *Registry) Register(p Processor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.processors {
		if existing.Name() == p.Name() {
			return false
		}
	}
	r.processors = append(r.processors, p)
	return true
}

// Unregister removes the processor with the given name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.processors {
		if p.Name() == name {
			r.processors = append(r.processors[:i:i], r.processors[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every processor.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.processors = nil
	r.mu.Unlock()
}

// Snapshot returns a copy of the processors safe to iterate while the
// registry changes.
func (r *Registry) Snapshot() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, len(r.processors))
	copy(out, r.processors)
	return out
}

// Names lists registered processor names.
func (r *Registry) Names() []string {
	snap := r.Snapshot()
	names := make([]string, len(snap))
	for i, p := range snap {
		names[i] = p.Name()
	}
	return names
}
