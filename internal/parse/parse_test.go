package parse

import (
	"strings"
	"testing"
)

func TestParseThinkTags(t *testing.T) {
	tests := []struct {
		name          string
		in            string
		wantReasoning string
		wantAnswer    string
		wantTags      bool
	}{
		{"plain answer", "just an answer", "", "just an answer", false},
		{"reasoning and answer", "<think>step by step</think>the answer", "step by step", "the answer", true},
		{"whitespace trimmed", "<think>\n r \n</think>\n a \n", "r", "a", true},
		{"unterminated tag", "<think>still going", "still going", "", true},
		{"text before tag", "preamble <think>r</think> a", "r", "preamble  a", true},
		{"only first span", "<think>one</think>mid<think>two</think>", "one", "mid<think>two</think>", true},
		{"empty input", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseThinkTags(tt.in)
			if got.Reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", got.Reasoning, tt.wantReasoning)
			}
			if got.Answer != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", got.Answer, tt.wantAnswer)
			}
			if got.HasThinkTags != tt.wantTags {
				t.Errorf("hasThinkTags = %v, want %v", got.HasThinkTags, tt.wantTags)
			}
		})
	}
}

func TestThinkTagRoundTrip(t *testing.T) {
	texts := []struct {
		reasoning string
		answer    string
	}{
		{"R", "A"},
		{"multi\nline reasoning", "final answer"},
		{"", "answer only"},
	}

	for _, tt := range texts {
		combined := CombineReasoningContent(tt.reasoning, tt.answer)
		got := ParseThinkTags(combined)
		if got.Reasoning != strings.TrimSpace(tt.reasoning) {
			t.Errorf("round trip reasoning = %q, want %q", got.Reasoning, tt.reasoning)
		}
		if got.Answer != strings.TrimSpace(tt.answer) {
			t.Errorf("round trip answer = %q, want %q", got.Answer, tt.answer)
		}
		if tt.reasoning != "" && !got.HasThinkTags {
			t.Error("expected think tags after combine")
		}
	}
}

func TestExtractJSONFields(t *testing.T) {
	t.Run("complete object", func(t *testing.T) {
		res := ExtractJSONFields(`the model says {"score": 7, "comment": "ok"} trailing`, []string{"score"})
		if res.Error != nil {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if !res.IsComplete {
			t.Error("expected complete")
		}
		if res.Data["score"] != float64(7) {
			t.Errorf("score = %v", res.Data["score"])
		}
	})

	t.Run("truncated object repaired", func(t *testing.T) {
		res := ExtractJSONFields(`{"score": 7, "comment": "cut of`, []string{"score", "verdict"})
		if res.Error != nil {
			t.Fatalf("repair failed: %v", res.Error)
		}
		if res.IsComplete {
			t.Error("repaired parse must not be complete")
		}
		if res.Data["score"] != float64(7) {
			t.Errorf("score = %v", res.Data["score"])
		}
		if len(res.MissingFields) != 1 || res.MissingFields[0] != "verdict" {
			t.Errorf("missing = %v, want [verdict]", res.MissingFields)
		}
	})

	t.Run("trailing comma repaired", func(t *testing.T) {
		res := ExtractJSONFields(`{"a": 1,`, []string{"a"})
		if res.Error != nil {
			t.Fatalf("repair failed: %v", res.Error)
		}
		if res.Data["a"] != float64(1) {
			t.Errorf("a = %v", res.Data["a"])
		}
	})

	t.Run("nested array repaired", func(t *testing.T) {
		res := ExtractJSONFields(`{"items": [1, 2`, nil)
		if res.Error != nil {
			t.Fatalf("repair failed: %v", res.Error)
		}
		items, ok := res.Data["items"].([]any)
		if !ok || len(items) != 2 {
			t.Errorf("items = %v", res.Data["items"])
		}
	})

	t.Run("no object", func(t *testing.T) {
		res := ExtractJSONFields("no json here", []string{"a"})
		if res.Data != nil {
			t.Errorf("data = %v, want nil", res.Data)
		}
		if len(res.MissingFields) != 1 {
			t.Errorf("missing = %v", res.MissingFields)
		}
	})
}

func TestParseToolCalls(t *testing.T) {
	text := `before <tool_call>{"name": "lookup", "arguments": {"q": "x"}}</tool_call>` +
		`<tool_call>not json</tool_call>` +
		`<tool_call>{"name": "fetch", "arguments": {}}</tool_call> after`

	calls := ParseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2 (malformed skipped)", len(calls))
	}
	if calls[0].Name != "lookup" || calls[1].Name != "fetch" {
		t.Errorf("names = %q, %q", calls[0].Name, calls[1].Name)
	}
	if calls[0].Arguments["q"] != "x" {
		t.Errorf("arguments = %v", calls[0].Arguments)
	}
}

func TestParseToolCallsNone(t *testing.T) {
	if calls := ParseToolCalls("plain text"); calls != nil {
		t.Errorf("got %v, want nil", calls)
	}
}

func TestSanitizeReasoningContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "content", "content"},
		{"code fence", "```\ncontent\n```", "content"},
		{"fence with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"think wrapper", "<think>content</think>", "content"},
		{"reasoning wrapper", "<reasoning>content</reasoning>", "content"},
		{"nested wrappers", "<reasoning_content><think>content</think></reasoning_content>", "content"},
		{"fence around tag", "```\n<think>content</think>\n```", "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReasoningContent(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeUnwrapsDeepNesting(t *testing.T) {
	s := "content"
	for range 100 {
		s = "<think>" + s + "</think>"
	}
	if got := SanitizeReasoningContent(s); got != "content" {
		t.Errorf("got %q, want %q", got, "content")
	}
}

func TestProgressive(t *testing.T) {
	var p Progressive

	s := p.Feed("")
	if s.Phase != PhaseWaiting {
		t.Errorf("phase = %s, want waiting", s.Phase)
	}

	s = p.Feed("<think>first ")
	if s.Phase != PhaseReasoning {
		t.Errorf("phase = %s, want reasoning", s.Phase)
	}
	if s.Reasoning != "first" {
		t.Errorf("reasoning = %q", s.Reasoning)
	}

	s = p.Feed("thoughts</think>the ans")
	if s.Phase != PhaseAnswer {
		t.Errorf("phase = %s, want answer", s.Phase)
	}
	if s.Reasoning != "first thoughts" {
		t.Errorf("reasoning = %q", s.Reasoning)
	}

	s = p.Feed("wer")
	if s.Answer != "the answer" {
		t.Errorf("answer = %q", s.Answer)
	}

	s = p.Finalize()
	if s.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", s.Phase)
	}
}

func TestProgressiveFinalizeUnterminated(t *testing.T) {
	var p Progressive
	p.Feed("<think>never closed")

	s := p.Finalize()
	if s.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", s.Phase)
	}
	if s.Reasoning != "never closed" {
		t.Errorf("reasoning = %q", s.Reasoning)
	}
	if strings.Contains(s.Reasoning, "<think>") {
		t.Error("reasoning contains orphaned tag marker")
	}
}

func TestProgressiveNoTags(t *testing.T) {
	var p Progressive
	p.Feed("plain ")
	s := p.Feed("answer")
	if s.Phase != PhaseAnswer || s.Answer != "plain answer" {
		t.Errorf("got %+v", s)
	}
}
