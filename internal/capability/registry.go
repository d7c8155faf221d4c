package capability

import (
	"fmt"
	"strings"
)

// Registry holds capabilities in registration order. Order matters: the
// model sees descriptors in this order, and earlier entries get picked more
// often for ambiguous questions.
type Registry struct {
	ordered []Capability
	byName  map[string]Capability
}

func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{byName: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if c.Name() == "" {
			return nil, fmt.Errorf("capability with empty name")
		}
		if _, exists := r.byName[c.Name()]; exists {
			return nil, fmt.Errorf("duplicate capability %q", c.Name())
		}
		r.byName[c.Name()] = c
		r.ordered = append(r.ordered, c)
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Capability, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return c, nil
}

func (r *Registry) All() []Capability {
	out := make([]Capability, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, c := range r.ordered {
		names[i] = c.Name()
	}
	return names
}

// DescribeAll renders the routing descriptors, one per line, in
// registration order.
func (r *Registry) DescribeAll() string {
	var b strings.Builder
	for _, c := range r.ordered {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name(), c.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}
