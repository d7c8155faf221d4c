package llm

import "context"

// Completer is the minimal model-call surface the routing loop and the
// capabilities depend on. The engine implements it on top of a provider
// client, the stored API key and the retry policy.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
