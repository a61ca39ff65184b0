package parse

import "strings"

// Phase describes how far a streaming response has progressed.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseReasoning Phase = "reasoning"
	PhaseAnswer    Phase = "answer"
	PhaseComplete  Phase = "complete"
)

// Progressive accumulates streamed text and re-derives the reasoning/answer
// split on every update. It is stateful and not safe for concurrent use;
// one instance belongs to one stream session.
type Progressive struct {
	buf       strings.Builder
	finalized bool
}

// Snapshot is the derived view after a Feed or Finalize call.
type Snapshot struct {
	Reasoning string
	Answer    string
	Phase     Phase
}

// Feed appends a chunk and returns the current snapshot. The split is
// re-derived from the full buffer each time: an open think tag without a
// close means the stream is mid-reasoning; a closed tag means the answer
// is streaming.
func (p *Progressive) Feed(chunk string) Snapshot {
	p.buf.WriteString(chunk)
	return p.snapshot()
}

// Finalize force-closes an unterminated reasoning tag and returns the final
// snapshot. The returned reasoning never contains an orphaned tag marker.
func (p *Progressive) Finalize() Snapshot {
	p.finalized = true
	s := p.snapshot()
	s.Phase = PhaseComplete
	return s
}

// Text returns the full accumulated buffer.
func (p *Progressive) Text() string {
	return p.buf.String()
}

func (p *Progressive) snapshot() Snapshot {
	text := p.buf.String()

	start := strings.Index(text, thinkOpen)
	if start < 0 {
		if strings.TrimSpace(text) == "" {
			return Snapshot{Phase: PhaseWaiting}
		}
		return Snapshot{Answer: strings.TrimSpace(text), Phase: PhaseAnswer}
	}

	rest := text[start+len(thinkOpen):]
	end := strings.Index(rest, thinkClose)
	if end < 0 {
		// Open without close: still reasoning (or finalized mid-reasoning).
		return Snapshot{
			Reasoning: strings.TrimSpace(rest),
			Answer:    strings.TrimSpace(text[:start]),
			Phase:     PhaseReasoning,
		}
	}

	res := ParseThinkTags(text)
	return Snapshot{Reasoning: res.Reasoning, Answer: res.Answer, Phase: PhaseAnswer}
}
