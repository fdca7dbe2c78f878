package parsers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Open-Inflation/converter/internal/apperrors"
	"github.com/Open-Inflation/converter/internal/model"
)

// Handler is a per-source normalizer: it turns a RawObservation into a
// NormalizedRecord. Implementations embed BaseHandler for the shared
// merge logic and supply only the title parser and any category/geo/
// composition overrides.
type Handler interface {
	ParserName() string
	Handle(raw model.RawObservation) model.NormalizedRecord
}

// Registry maps lowercase parser_name to Handler. Registration is
// idempotent per process only in the sense that re-registering the same
// name is rejected; lookups of an unknown name fail loudly, naming the
// known set, matching original_source/converter/core/registry.py.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds handler under its lowercased ParserName. It errors if
// the name is empty or already registered.
func (r *Registry) Register(handler Handler) error {
	name := strings.ToLower(strings.TrimSpace(handler.ParserName()))
	if name == "" {
		return fmt.Errorf("parsers: handler parser_name must be non-empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("parsers: handler for parser %q already exists", name)
	}
	r.handlers[name] = handler
	return nil
}

// Get looks up a handler by parser_name, case-insensitively. It returns
// a fatal, descriptive error naming the known handlers when the name is
// unregistered, per spec §4.1 ("fatal 'no handler' error that names the
// known set").
func (r *Registry) Get(parserName string) (Handler, error) {
	key := strings.ToLower(strings.TrimSpace(parserName))

	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[key]
	if !ok {
		known := r.registeredParsersLocked()
		if known == "" {
			known = "<empty>"
		}
		return nil, apperrors.NewFatal("parsers: no handler for parser %q. Known: %s", parserName, known)
	}
	return handler, nil
}

// RegisteredParsers returns the sorted set of registered parser names.
func (r *Registry) RegisteredParsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) registeredParsersLocked() string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
