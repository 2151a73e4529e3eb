package sites

import "fmt"

// Registry holds the configured adapters keyed by site id. Site ids are
// short stable strings ("ns", "df", "xs") that also appear in persisted
// user records, so an id must never be reused for a different site.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) error {
	id := a.Info().ID
	if id == "" {
		return fmt.Errorf("adapter has an empty site id")
	}
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("site %q registered twice", id)
	}
	r.adapters[id] = a
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns site ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
