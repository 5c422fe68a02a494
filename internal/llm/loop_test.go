package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedRound replays one response per round.
type scriptedRound struct {
	rounds  []scriptedResponse
	calls   int
	offered [][]ToolSchema
	seen    [][]Message
}

type scriptedResponse struct {
	chunks []string
	calls  []ToolCall
	err    error
}

func (s *scriptedRound) round(ctx context.Context, msgs []Message, tools []ToolSchema, emit func(string) bool) ([]ToolCall, string, error) {
	s.seen = append(s.seen, append([]Message(nil), msgs...))
	s.offered = append(s.offered, tools)
	r := s.rounds[len(s.rounds)-1]
	if s.calls < len(s.rounds) {
		r = s.rounds[s.calls]
	}
	s.calls++
	if r.err != nil {
		return nil, "", r.err
	}
	var text strings.Builder
	for _, c := range r.chunks {
		text.WriteString(c)
		if !emit(c) {
			return nil, text.String(), nil
		}
	}
	return r.calls, text.String(), nil
}

var searchTool = []ToolSchema{{Name: "web_search", Params: map[string]Param{"query": {Type: "string"}}}}

func collect(t *testing.T, seq func(func(Token, error) bool)) ([]Token, error) {
	t.Helper()
	var toks []Token
	for tok, err := range seq {
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func TestToolLoop_TextOnly(t *testing.T) {
	s := &scriptedRound{rounds: []scriptedResponse{{chunks: []string{"Hel", "lo"}}}}
	toks, err := collect(t, runToolLoop(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, searchTool, func(context.Context, ToolCall) string { return "" }, s.round))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(toks) != 2 || toks[0].Text != "Hel" || toks[1].Text != "lo" {
		t.Errorf("tokens = %+v", toks)
	}
	if s.calls != 1 {
		t.Errorf("rounds = %d, want 1", s.calls)
	}
}

func TestToolLoop_ToolRoundThenAnswer(t *testing.T) {
	s := &scriptedRound{rounds: []scriptedResponse{
		{calls: []ToolCall{
			{ID: "c1", Name: "web_search", Arguments: `{"query":"a"}`},
			{ID: "c2", Name: "web_search", Arguments: `{"query":"b"}`},
		}},
		{chunks: []string{"Found it."}},
	}}
	var executed []string
	exec := func(_ context.Context, call ToolCall) string {
		executed = append(executed, call.ID)
		return "result " + call.ID
	}

	toks, err := collect(t, runToolLoop(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, searchTool, exec, s.round))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var statuses []string
	for _, tok := range toks {
		if tok.Kind == TokenStatus {
			statuses = append(statuses, tok.Status.Action)
			if tok.Status.Total != 2 {
				t.Errorf("Total = %d, want 2", tok.Status.Total)
			}
		}
	}
	want := []string{StatusToolStart, StatusToolDone, StatusToolStart, StatusToolDone}
	if strings.Join(statuses, ",") != strings.Join(want, ",") {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
	if toks[len(toks)-1].Text != "Found it." {
		t.Errorf("last token = %+v", toks[len(toks)-1])
	}
	if len(executed) != 2 {
		t.Errorf("executed = %v", executed)
	}

	second := s.seen[1]
	last := second[len(second)-1]
	if last.Role != RoleTool || last.ToolCallID != "c2" || last.Content != "result c2" {
		t.Errorf("tool result message = %+v", last)
	}
	if second[1].Role != RoleAssistant || len(second[1].ToolCalls) != 2 {
		t.Errorf("assistant tool-call message = %+v", second[1])
	}
}

func TestToolLoop_MaxRoundsDropsTools(t *testing.T) {
	s := &scriptedRound{rounds: []scriptedResponse{
		{calls: []ToolCall{{ID: "c", Name: "web_search", Arguments: "{}"}}},
	}}
	_, err := collect(t, runToolLoop(context.Background(), nil, searchTool, func(context.Context, ToolCall) string { return "r" }, s.round))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if s.calls != MaxToolRounds+1 {
		t.Errorf("rounds = %d, want %d", s.calls, MaxToolRounds+1)
	}
	if s.offered[MaxToolRounds] != nil {
		t.Error("final round still offered tools")
	}
}

func TestToolLoop_ErrorPropagates(t *testing.T) {
	boom := &RateLimitError{Status: 429}
	s := &scriptedRound{rounds: []scriptedResponse{{err: boom}}}
	_, err := collect(t, runToolLoop(context.Background(), nil, nil, nil, s.round))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestToolLoop_ConsumerStops(t *testing.T) {
	s := &scriptedRound{rounds: []scriptedResponse{{chunks: []string{"a", "b", "c"}}}}
	n := 0
	for range runToolLoop(context.Background(), nil, nil, nil, s.round) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("consumed %d tokens", n)
	}
}

func TestToolLoop_ResultAfterCancelDiscarded(t *testing.T) {
	s := &scriptedRound{rounds: []scriptedResponse{
		{calls: []ToolCall{{ID: "c", Name: "web_search", Arguments: "{}"}}},
		{chunks: []string{"should not appear"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	exec := func(context.Context, ToolCall) string {
		cancel()
		return "late result"
	}
	toks, err := collect(t, runToolLoop(ctx, nil, searchTool, exec, s.round))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	for _, tok := range toks {
		if tok.Kind == TokenStatus && tok.Status.Action == StatusToolDone {
			t.Error("tool_done emitted after cancellation")
		}
		if tok.Kind == TokenText {
			t.Errorf("text after cancellation: %q", tok.Text)
		}
	}
	if s.calls != 1 {
		t.Errorf("rounds = %d, want 1", s.calls)
	}
}
