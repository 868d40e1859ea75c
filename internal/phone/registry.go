package phone

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var _ Resolver = (*Registry)(nil)

// Registry maps subscriptions to the line serving them.
type Registry struct {
	mu     sync.RWMutex
	phones map[int]Phone
}

func NewRegistry() *Registry {
	return &Registry{phones: make(map[int]Phone)}
}

func (r *Registry) Register(subscriptionID int, p Phone) error {
	if p == nil {
		return fmt.Errorf("phone is required for subscription %d", subscriptionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.phones[subscriptionID] = p
	return nil
}

func (r *Registry) Phone(subscriptionID int) (Phone, bool) {
	if r == nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.phones[subscriptionID]
	return p, ok
}

// Subscriptions returns the registered subscription ids in ascending order.
func (r *Registry) Subscriptions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.phones))
	for id := range r.phones {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ParseLines parses "subId=endpoint" pairs separated by commas, e.g.
// "0=https://line0.example/send,1=https://line1.example/send".
func ParseLines(value string) (map[int]string, error) {
	lines := make(map[int]string)

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		key, endpoint, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid phone line %q: expected subId=endpoint", item)
		}

		subscriptionID, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("invalid subscription id in phone line %q: %w", item, err)
		}
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("empty endpoint for subscription %d", subscriptionID)
		}
		if _, exists := lines[subscriptionID]; exists {
			return nil, fmt.Errorf("duplicate phone line for subscription %d", subscriptionID)
		}

		lines[subscriptionID] = endpoint
	}

	return lines, nil
}

// BuildRegistry registers an HTTPLine for every line in value.
func BuildRegistry(value string, timeout time.Duration, logger *zap.Logger) (*Registry, error) {
	lines, err := ParseLines(value)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for subscriptionID, endpoint := range lines {
		line, err := NewHTTPLine(subscriptionID, endpoint, timeout, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(subscriptionID, line); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
