package agent

import "strings"

type OutputKind int

const (
	KindMalformed OutputKind = iota
	KindFinalAnswer
	KindAction
)

// ParsedOutput is the structured form of one model reply. A reply is either
// a final answer, a capability invocation, or malformed.
type ParsedOutput struct {
	Kind        OutputKind
	Thought     string
	Answer      string
	ActionName  string
	ActionInput string
	Raw         string
}

const (
	markerThought     = "Thought:"
	markerFinalAnswer = "Final Answer:"
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerObservation = "Observation:"
)

// ParseModelOutput classifies a model reply against the routing grammar.
// A "Final Answer:" marker wins over an action; hallucinated observations
// are cut off so the model cannot feed itself.
func ParseModelOutput(text string) ParsedOutput {
	out := ParsedOutput{Kind: KindMalformed, Raw: text}
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case out.Thought == "" && strings.HasPrefix(trimmed, markerThought):
			out.Thought = strings.TrimSpace(strings.TrimPrefix(trimmed, markerThought))
		case strings.HasPrefix(trimmed, markerFinalAnswer):
			answer := strings.TrimSpace(strings.TrimPrefix(trimmed, markerFinalAnswer))
			rest := collectUntilMarker(lines[i+1:])
			if rest != "" {
				answer = strings.TrimSpace(answer + "\n" + rest)
			}
			out.Kind = KindFinalAnswer
			out.Answer = answer
			return out
		case out.ActionName == "" && strings.HasPrefix(trimmed, markerAction):
			out.ActionName = strings.TrimSpace(strings.TrimPrefix(trimmed, markerAction))
		case strings.HasPrefix(trimmed, markerActionInput):
			input := strings.TrimSpace(strings.TrimPrefix(trimmed, markerActionInput))
			rest := collectUntilMarker(lines[i+1:])
			if rest != "" {
				input = strings.TrimSpace(input + "\n" + rest)
			}
			if out.ActionName != "" {
				out.Kind = KindAction
				out.ActionInput = input
			}
			return out
		}
	}
	if out.ActionName != "" {
		out.Kind = KindAction
	}
	return out
}

// collectUntilMarker gathers continuation lines until the next grammar
// marker, so multi-line answers and inputs survive parsing.
func collectUntilMarker(lines []string) string {
	var collected []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, markerThought) ||
			strings.HasPrefix(trimmed, markerAction) ||
			strings.HasPrefix(trimmed, markerActionInput) ||
			strings.HasPrefix(trimmed, markerObservation) ||
			strings.HasPrefix(trimmed, markerFinalAnswer) {
			break
		}
		collected = append(collected, line)
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}
