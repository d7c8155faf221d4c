package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"datapilot/engine/internal/capability"
	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

type fakeCapability struct {
	name     string
	direct   bool
	output   string
	execErr  error
	executed int
}

func (f *fakeCapability) Name() string        { return f.name }
func (f *fakeCapability) Description() string { return "fake " + f.name }
func (f *fakeCapability) DirectReturn() bool  { return f.direct }
func (f *fakeCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	f.executed++
	if f.execErr != nil {
		return "", f.execErr
	}
	return f.output, nil
}

type scriptedCompleter struct {
	replies []string
	calls   int
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls++
	if len(s.replies) == 0 {
		return "", fmt.Errorf("no scripted reply for call %d", s.calls)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func testDataset(t *testing.T) *dataset.Handle {
	t.Helper()
	h, err := dataset.Load("test.csv", []byte("city,price\nSP,10\nRJ,20\n"))
	if err != nil {
		t.Fatalf("load dataset: %v", err)
	}
	return h
}

func newLoop(t *testing.T, completer llm.Completer, caps ...capability.Capability) *Loop {
	t.Helper()
	reg, err := capability.NewRegistry(caps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(completer, reg, Config{})
}

func TestAskFinalAnswerFirstReply(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"Thought: easy\nFinal Answer: two rows"}}
	loop := newLoop(t, completer, &fakeCapability{name: "noop"})

	res, err := loop.Ask(context.Background(), testDataset(t), "how many rows?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone || res.Answer != "two rows" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if completer.calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", completer.calls)
	}
	if len(res.Steps) != 0 {
		t.Fatalf("no steps expected, got %d", len(res.Steps))
	}
}

func TestAskDirectReturnShortCircuits(t *testing.T) {
	report := &fakeCapability{name: "report", direct: true, output: "structural summary"}
	completer := &scriptedCompleter{replies: []string{
		"Thought: need structure\nAction: report\nAction Input: describe",
	}}
	loop := newLoop(t, completer, report)

	res, err := loop.Ask(context.Background(), testDataset(t), "describe the data")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone || res.Answer != "structural summary" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if completer.calls != 1 {
		t.Fatalf("direct return must not trigger another model call, got %d", completer.calls)
	}
	if report.executed != 1 {
		t.Fatalf("capability should run once, ran %d times", report.executed)
	}
}

func TestAskRecoversFromUnknownCapability(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"Thought: hmm\nAction: not_a_thing\nAction Input: x",
		"Thought: ok\nFinal Answer: done",
	}}
	loop := newLoop(t, completer, &fakeCapability{name: "real"})

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone || res.Answer != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("expected one step, got %d", len(res.Steps))
	}
	if !strings.Contains(res.Steps[0].Observation, "Unknown capability") {
		t.Fatalf("observation should name the failure: %q", res.Steps[0].Observation)
	}
	if !strings.Contains(res.Steps[0].Observation, "real") {
		t.Fatalf("observation should list available capabilities: %q", res.Steps[0].Observation)
	}
}

func TestAskRejectsRepeatedInvocation(t *testing.T) {
	echo := &fakeCapability{name: "echo", output: "the observation"}
	completer := &scriptedCompleter{replies: []string{
		"Action: echo\nAction Input: same",
		"Action: echo\nAction Input: same",
		"Final Answer: finished",
	}}
	loop := newLoop(t, completer, echo)

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("unexpected state: %s", res.State)
	}
	if echo.executed != 1 {
		t.Fatalf("repeat invocation must not execute again, ran %d times", echo.executed)
	}
	if !strings.Contains(res.Steps[1].Observation, "already invoked") {
		t.Fatalf("expected corrective observation, got %q", res.Steps[1].Observation)
	}
}

func TestAskCapabilityErrorBecomesObservation(t *testing.T) {
	broken := &fakeCapability{name: "broken", execErr: fmt.Errorf("column does not exist")}
	completer := &scriptedCompleter{replies: []string{
		"Action: broken\nAction Input: x",
		"Final Answer: could not compute that",
	}}
	loop := newLoop(t, completer, broken)

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("capability errors must not abort the loop, got %s", res.State)
	}
	if !strings.Contains(res.Steps[0].Observation, "column does not exist") {
		t.Fatalf("error should surface in the observation: %q", res.Steps[0].Observation)
	}
}

func TestAskProviderFaultInCapabilityAbortsLoop(t *testing.T) {
	limited := &fakeCapability{name: "limited", execErr: fmt.Errorf("narrate digest: %w", llm.ErrRateLimited)}
	completer := &scriptedCompleter{replies: []string{
		"Action: limited\nAction Input: x",
		"Final Answer: should never be reached",
	}}
	loop := newLoop(t, completer, limited)

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err == nil {
		t.Fatalf("provider fault inside a capability must bubble, got %+v", res)
	}
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("caller needs the sentinel to classify the error, got %v", err)
	}
	if completer.calls != 1 {
		t.Fatalf("loop must stop after the fault, got %d model calls", completer.calls)
	}
}

func TestAskMalformedRetriesThenFails(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"I will just chat instead",
		"still not following the format",
		"the final garbage text",
	}}
	loop := newLoop(t, completer, &fakeCapability{name: "noop"})

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", res.State)
	}
	if res.Answer != "the final garbage text" {
		t.Fatalf("expected best-effort answer, got %q", res.Answer)
	}
	if completer.calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d calls", completer.calls)
	}
}

func TestAskCapsIterations(t *testing.T) {
	echo := &fakeCapability{name: "echo", output: "obs"}
	var replies []string
	for i := 0; i < 10; i++ {
		replies = append(replies, fmt.Sprintf("Action: echo\nAction Input: input-%d", i))
	}
	completer := &scriptedCompleter{replies: replies}
	loop := newLoop(t, completer, echo)

	res, err := loop.Ask(context.Background(), testDataset(t), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateCapped {
		t.Fatalf("expected CAPPED, got %s", res.State)
	}
	if completer.calls != DefaultMaxIterations {
		t.Fatalf("expected exactly %d model calls, got %d", DefaultMaxIterations, completer.calls)
	}
	if res.Answer != "obs" {
		t.Fatalf("capped answer should come from the last observation, got %q", res.Answer)
	}
	if len(res.Steps) != DefaultMaxIterations {
		t.Fatalf("expected %d steps, got %d", DefaultMaxIterations, len(res.Steps))
	}
}

func TestAskObservationFeedsNextPrompt(t *testing.T) {
	echo := &fakeCapability{name: "echo", output: "sum is 30"}
	var secondPrompt string
	completer := llm.CompleterFunc(func(ctx context.Context, messages []llm.Message) (string, error) {
		last := messages[len(messages)-1].Content
		if strings.Contains(last, "Observation:") {
			secondPrompt = last
			return "Final Answer: the sum is 30", nil
		}
		return "Action: echo\nAction Input: sum", nil
	})
	loop := newLoop(t, completer, echo)

	res, err := loop.Ask(context.Background(), testDataset(t), "what is the sum?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("unexpected state: %s", res.State)
	}
	if !strings.Contains(secondPrompt, "Observation: sum is 30") {
		t.Fatalf("observation missing from follow-up prompt:\n%s", secondPrompt)
	}
}

func TestParseModelOutput(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind OutputKind
	}{
		{"final", "Final Answer: ok", KindFinalAnswer},
		{"action", "Thought: t\nAction: a\nAction Input: b", KindAction},
		{"action no input", "Action: a", KindAction},
		{"malformed", "hello there", KindMalformed},
		{"final wins", "Final Answer: yes\nAction: a\nAction Input: b", KindFinalAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseModelOutput(tc.in)
			if got.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tc.kind)
			}
		})
	}
}

func TestParseModelOutputMultilineInput(t *testing.T) {
	got := ParseModelOutput("Action: run\nAction Input: line one\nline two\nObservation: fake")
	if got.Kind != KindAction {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.ActionInput != "line one\nline two" {
		t.Fatalf("input = %q", got.ActionInput)
	}
}
