package jobs

import (
	"fmt"
	"strings"

	"github.com/curatolabs/tracedesk/internal/models"
)

// renderRecord flattens a session log into prompt text. Multi-turn records
// render as a transcript; flat records as labeled sections.
func renderRecord(log models.SessionLog) string {
	var sb strings.Builder
	if len(log.Messages) > 0 {
		for _, m := range log.Messages {
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", m.Role, m.Content)
		}
		return strings.TrimSpace(sb.String())
	}

	if log.Query != "" {
		fmt.Fprintf(&sb, "Question:\n%s\n\n", log.Query)
	}
	if log.Reasoning != "" {
		fmt.Fprintf(&sb, "Reasoning:\n%s\n\n", log.Reasoning)
	}
	if log.Answer != "" {
		fmt.Fprintf(&sb, "Answer:\n%s\n", log.Answer)
	}
	return strings.TrimSpace(sb.String())
}

const scoreInstruction = `You are reviewing a recorded reasoning trace. Judge the quality of the reasoning and the final answer: correctness, coherence, and whether the reasoning actually supports the answer.

Respond with a JSON object of the form {"grade": N} where N is a number from 1 (useless) to 10 (excellent). Do not add any other text.`

const rewriteInstruction = `You are improving a recorded reasoning trace. Rewrite the reasoning so it is coherent, step by step, and actually derives the answer. Keep the final answer correct; fix it only if the original is wrong.

Wrap the rewritten reasoning in <think>...</think> tags and put the final answer after the closing tag.`
