// Package capability defines the operations the routing loop can dispatch
// to and the registry the model-facing descriptors are served from.
package capability

import (
	"context"
	"fmt"

	"datapilot/engine/internal/dataset"
)

// Capability is one dispatchable operation over the loaded dataset. Name is
// the routing key the model emits; Description is the routing text shown to
// the model. DirectReturn capabilities produce output that becomes the final
// answer without a summarization round trip.
type Capability interface {
	Name() string
	Description() string
	DirectReturn() bool
	Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error)
}

// NotFoundError reports a routing key that matches no registered capability.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Name)
}
