package llm

import (
	"context"
	"iter"
)

// MaxToolRounds bounds how many times the model may call tools in one turn.
// After the last round the model is asked to answer without tools.
const MaxToolRounds = 5

// roundFunc performs one streaming request. It forwards text through emit
// and stops early when emit returns false. It returns the tool calls the
// model asked for and the full text of the round.
type roundFunc func(ctx context.Context, msgs []Message, tools []ToolSchema, emit func(string) bool) (calls []ToolCall, text string, err error)

// runToolLoop drives rounds until the model answers without calling tools.
// Tool results that come back after ctx is cancelled are dropped.
func runToolLoop(ctx context.Context, msgs []Message, tools []ToolSchema, exec ExecuteFunc, round roundFunc) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		history := append([]Message(nil), msgs...)
		stopped := false
		emit := func(s string) bool {
			if stopped {
				return false
			}
			if !yield(Token{Kind: TokenText, Text: s}, nil) {
				stopped = true
			}
			return !stopped
		}

		for r := 0; r <= MaxToolRounds; r++ {
			offered := tools
			if r == MaxToolRounds || exec == nil {
				offered = nil
			}
			calls, text, err := round(ctx, history, offered, emit)
			if stopped {
				return
			}
			if err != nil {
				yield(Token{}, err)
				return
			}
			if len(calls) == 0 || offered == nil {
				return
			}

			history = append(history, Message{Role: RoleAssistant, Content: text, ToolCalls: calls})
			for i, call := range calls {
				if !yield(Token{Kind: TokenStatus, Status: &Status{Action: StatusToolStart, Tool: call.Name, Index: i + 1, Total: len(calls)}}, nil) {
					return
				}
				result := exec(ctx, call)
				if ctx.Err() != nil {
					return
				}
				if !yield(Token{Kind: TokenStatus, Status: &Status{Action: StatusToolDone, Tool: call.Name, Index: i + 1, Total: len(calls)}}, nil) {
					return
				}
				history = append(history, Message{Role: RoleTool, Content: result, ToolCallID: call.ID, Name: call.Name})
			}
		}
	}
}
