// Package agent implements the routing loop: the model decides which
// capability to invoke, the loop executes it and feeds the observation
// back, until a final answer or a limit is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"datapilot/engine/internal/capability"
	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
	"datapilot/engine/internal/logging"
)

type State string

const (
	StateDone   State = "DONE"
	StateCapped State = "CAPPED"
	StateFailed State = "FAILED"
)

const (
	DefaultMaxIterations = 6
	DefaultParseRetries  = 2
)

// Step is one scratchpad entry. Steps only live for the duration of a
// single question.
type Step struct {
	ID          string `json:"id"`
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	Input       string `json:"input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

type Result struct {
	Answer string `json:"answer"`
	State  State  `json:"state"`
	Steps  []Step `json:"steps"`
}

type Config struct {
	MaxIterations int
	ParseRetries  int
	Logger        *slog.Logger
}

type Loop struct {
	completer     llm.Completer
	registry      *capability.Registry
	maxIterations int
	parseRetries  int
	logger        *slog.Logger
}

func New(completer llm.Completer, registry *capability.Registry, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ParseRetries < 0 {
		cfg.ParseRetries = DefaultParseRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Loop{
		completer:     completer,
		registry:      registry,
		maxIterations: cfg.MaxIterations,
		parseRetries:  cfg.ParseRetries,
		logger:        cfg.Logger,
	}
}

// Ask runs the routing loop for one question. Model or provider errors
// bubble up; everything that goes wrong inside the loop itself resolves to
// a Result with a terminal state.
func (l *Loop) Ask(ctx context.Context, ds *dataset.Handle, question string) (*Result, error) {
	var steps []Step
	invoked := make(map[string]bool)
	retriesLeft := l.parseRetries
	lastObservation := ""
	lastText := ""

	for iteration := 0; iteration < l.maxIterations; {
		out, err := l.completer.Complete(ctx, buildMessages(l.registry, ds, question, steps))
		if err != nil {
			return nil, err
		}
		lastText = out
		parsed := ParseModelOutput(out)

		if parsed.Kind == KindMalformed {
			if retriesLeft == 0 {
				l.logger.Warn("routing output malformed, retries exhausted")
				return &Result{Answer: bestEffortAnswer(lastText), State: StateFailed, Steps: steps}, nil
			}
			retriesLeft--
			steps = append(steps, Step{
				ID:          ulid.Make().String(),
				Observation: "Your last reply did not follow the format. Reply with either an Action/Action Input pair or a Final Answer.",
			})
			continue
		}

		if parsed.Kind == KindFinalAnswer {
			l.logger.Info("routing finished", "iterations", iteration, "steps", len(steps))
			return &Result{Answer: parsed.Answer, State: StateDone, Steps: steps}, nil
		}

		iteration++
		step := Step{
			ID:      ulid.Make().String(),
			Thought: parsed.Thought,
			Action:  parsed.ActionName,
			Input:   parsed.ActionInput,
		}

		key := parsed.ActionName + "\x1f" + parsed.ActionInput
		if invoked[key] {
			step.Observation = fmt.Sprintf("You already invoked %s with this exact input. Use the earlier observation, or give your Final Answer now.", parsed.ActionName)
			steps = append(steps, step)
			lastObservation = step.Observation
			continue
		}

		target, err := l.registry.Lookup(parsed.ActionName)
		if err != nil {
			step.Observation = fmt.Sprintf("Unknown capability %q. Available capabilities: %s.", parsed.ActionName, strings.Join(l.registry.Names(), ", "))
			steps = append(steps, step)
			lastObservation = step.Observation
			continue
		}

		invoked[key] = true
		output, err := target.Execute(ctx, parsed.ActionInput, ds)
		if err != nil {
			// Provider-boundary faults abort the whole question so the
			// caller can surface them as retryable; only genuine
			// capability faults feed back into the scratchpad.
			if isProviderFault(err) {
				return nil, err
			}
			l.logger.Warn("capability failed", "capability", target.Name(), "error", err)
			step.Observation = fmt.Sprintf("The capability failed: %v. Try a different approach or give your Final Answer.", err)
			steps = append(steps, step)
			lastObservation = step.Observation
			continue
		}

		step.Observation = output
		steps = append(steps, step)
		lastObservation = output

		if target.DirectReturn() {
			l.logger.Info("routing finished via direct return", "capability", target.Name(), "iterations", iteration)
			return &Result{Answer: output, State: StateDone, Steps: steps}, nil
		}
	}

	l.logger.Warn("routing hit iteration cap", "cap", l.maxIterations)
	answer := lastObservation
	if answer == "" {
		answer = bestEffortAnswer(lastText)
	}
	return &Result{Answer: answer, State: StateCapped, Steps: steps}, nil
}

// isProviderFault reports whether a capability error came from the model
// provider rather than from the capability's own work. Several capabilities
// call the model internally, so their errors can wrap the same sentinels
// the loop's own completer calls produce.
func isProviderFault(err error) bool {
	return errors.Is(err, llm.ErrRateLimited) ||
		errors.Is(err, llm.ErrUnauthorized) ||
		errors.Is(err, llm.ErrUnavailable) ||
		errors.Is(err, llm.ErrEgressBlocked)
}

// bestEffortAnswer salvages something presentable from raw model text when
// the loop cannot finish cleanly.
func bestEffortAnswer(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "I could not produce an answer for this question."
	}
	return trimmed
}
