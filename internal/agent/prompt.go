package agent

import (
	"fmt"
	"strings"

	"datapilot/engine/internal/capability"
	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

const systemPromptFormat = `You are a data analysis assistant working over a loaded CSV table.
Always answer in the same language as the user's question.

You can invoke these capabilities:
%s

Follow this exact format:
Thought: your reasoning about what to do next
Action: one capability name from the list above
Action Input: the input for that capability
Observation: the capability result (provided to you, never write it yourself)
... the Thought/Action/Action Input/Observation block can repeat ...
Thought: I know the answer
Final Answer: the answer to the user's question

Rules:
- Never invoke the same capability twice with the same input.
- Invoke at most one capability per reply.
- When you can answer, stop immediately with "Final Answer:".

Dataset sample (first rows):
%s`

// buildMessages renders the routing conversation: one system message with
// the instructions, descriptors and sample, then one user message with the
// question and the scratchpad so far.
func buildMessages(reg *capability.Registry, ds *dataset.Handle, question string, steps []Step) []llm.Message {
	system := fmt.Sprintf(systemPromptFormat, reg.DescribeAll(), ds.Sample())

	var user strings.Builder
	user.WriteString("Question: " + question)
	if len(steps) > 0 {
		user.WriteString("\n\n")
		user.WriteString(renderScratchpad(steps))
		user.WriteString("\nThought:")
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

func renderScratchpad(steps []Step) string {
	var b strings.Builder
	for _, step := range steps {
		if step.Thought != "" {
			b.WriteString("Thought: " + step.Thought + "\n")
		}
		if step.Action != "" {
			b.WriteString("Action: " + step.Action + "\n")
			b.WriteString("Action Input: " + step.Input + "\n")
		}
		if step.Observation != "" {
			b.WriteString("Observation: " + step.Observation + "\n")
		}
	}
	return b.String()
}
