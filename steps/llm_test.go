package steps

import (
	"context"
	"testing"

	"github.com/batchforge/batchengine/model"
)

func TestChatStepSendsSystemAndRenderedUserMessage(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "done"}}}
	fn := ChatStep(mock, "be terse", JoinLines)

	out, err := fn(context.Background(), []interface{}{"a", "b", 3})
	if err != nil {
		t.Fatalf("step fn: %v", err)
	}
	if out != "done" {
		t.Errorf("output = %v, want %q", out, "done")
	}
	if mock.CallCount() != 1 {
		t.Fatalf("CallCount() = %d, want 1", mock.CallCount())
	}

	call := mock.Calls[0]
	if len(call.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(call.Messages))
	}
	if call.Messages[0].Role != model.RoleSystem || call.Messages[0].Content != "be terse" {
		t.Errorf("system message = %+v", call.Messages[0])
	}
	if call.Messages[1].Role != model.RoleUser || call.Messages[1].Content != "a\nb\n3" {
		t.Errorf("user message = %+v", call.Messages[1])
	}
}

func TestChatStepPropagatesError(t *testing.T) {
	mock := &model.MockChatModel{Err: context.DeadlineExceeded}
	fn := ChatStep(mock, "sys", JoinLines)

	if _, err := fn(context.Background(), []interface{}{"x"}); err == nil {
		t.Fatal("expected an error from a failing chat call")
	}
}

func TestJoinLines(t *testing.T) {
	got := JoinLines([]interface{}{"one", 2, true})
	want := "one\n2\ntrue"
	if got != want {
		t.Errorf("JoinLines = %q, want %q", got, want)
	}
}
