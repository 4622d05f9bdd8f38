package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/batchforge/batchengine/model"
)

func TestAnthropicChatModel_Construction(t *testing.T) {
	t.Run("creates model with API key", func(t *testing.T) {
		if m := NewChatModel("test-api-key", "claude-3-opus-20240229"); m == nil {
			t.Fatal("expected non-nil model")
		}
	})

	t.Run("creates model with default model name", func(t *testing.T) {
		if m := NewChatModel("test-api-key", ""); m == nil {
			t.Fatal("expected non-nil model")
		}
	})
}

func TestAnthropicChatModel_Chat(t *testing.T) {
	t.Run("sends messages and returns response", func(t *testing.T) {
		mockClient := &mockAnthropicClient{response: "Hello! I'm Claude, an AI assistant."}
		m := &ChatModel{client: mockClient, modelName: "claude-3-opus-20240229"}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hi there!"}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Text != "Hello! I'm Claude, an AI assistant." {
			t.Errorf("expected specific text, got %q", out.Text)
		}
		if mockClient.callCount != 1 {
			t.Errorf("expected 1 API call, got %d", mockClient.callCount)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		m := &ChatModel{client: &mockAnthropicClient{response: "Response"}, modelName: "claude-3-opus-20240229"}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestAnthropicChatModel_ErrorHandling(t *testing.T) {
	t.Run("handles API errors", func(t *testing.T) {
		m := &ChatModel{client: &mockAnthropicClient{err: errors.New("API error: invalid request")}, modelName: "claude-3-opus-20240229"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("preserves the anthropicError type through Chat", func(t *testing.T) {
		mockClient := &mockAnthropicClient{err: &anthropicError{Type: "overloaded_error", Message: "Service temporarily overloaded"}}
		m := &ChatModel{client: mockClient, modelName: "claude-3-opus-20240229"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})

		var translatedErr *anthropicError
		if !errors.As(err, &translatedErr) {
			t.Fatalf("expected anthropicError type, got %T", err)
		}
		if translatedErr.Type != "overloaded_error" {
			t.Errorf("expected type 'overloaded_error', got %q", translatedErr.Type)
		}
	})

	t.Run("handles empty API key", func(t *testing.T) {
		m := NewChatModel("", "claude-3-opus-20240229")

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if err == nil {
			t.Error("expected error for empty API key")
		}
	})
}

func TestAnthropicChatModel_MessageConversion(t *testing.T) {
	t.Run("converts messages to Anthropic format", func(t *testing.T) {
		mockClient := &mockAnthropicClient{response: "Converted successfully"}
		m := &ChatModel{client: mockClient, modelName: "claude-3-opus-20240229"}

		messages := []model.Message{
			{Role: model.RoleUser, Content: "User message"},
			{Role: model.RoleAssistant, Content: "Assistant response"},
		}
		if _, err := m.Chat(context.Background(), messages); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(mockClient.lastMessages) != 2 {
			t.Errorf("expected 2 messages sent, got %d", len(mockClient.lastMessages))
		}
	})

	t.Run("extracts system message separately", func(t *testing.T) {
		mockClient := &mockAnthropicClient{response: "System extracted"}
		m := &ChatModel{client: mockClient, modelName: "claude-3-opus-20240229"}

		messages := []model.Message{
			{Role: model.RoleSystem, Content: "You are helpful"},
			{Role: model.RoleUser, Content: "User message"},
		}
		if _, err := m.Chat(context.Background(), messages); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if mockClient.systemPrompt != "You are helpful" {
			t.Errorf("expected system prompt extracted, got %q", mockClient.systemPrompt)
		}
		if len(mockClient.lastMessages) != 1 {
			t.Errorf("expected 1 message (user), got %d", len(mockClient.lastMessages))
		}
	})
}

type mockAnthropicClient struct {
	response     string
	err          error
	callCount    int
	lastMessages []model.Message
	systemPrompt string
}

func (m *mockAnthropicClient) createMessage(_ context.Context, systemPrompt string, messages []model.Message) (model.ChatOut, error) {
	m.callCount++
	m.lastMessages = messages
	m.systemPrompt = systemPrompt

	if m.err != nil {
		return model.ChatOut{}, m.err
	}
	return model.ChatOut{Text: m.response}, nil
}
