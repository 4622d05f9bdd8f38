package google

import (
	"context"
	"errors"
	"testing"

	"github.com/batchforge/batchengine/model"
)

func TestGoogleChatModel_Construction(t *testing.T) {
	t.Run("creates model with API key", func(t *testing.T) {
		if m := NewChatModel("test-api-key", "gemini-pro"); m == nil {
			t.Fatal("expected non-nil model")
		}
	})

	t.Run("creates model with default model name", func(t *testing.T) {
		if m := NewChatModel("test-api-key", ""); m == nil {
			t.Fatal("expected non-nil model")
		}
	})
}

func TestGoogleChatModel_Chat(t *testing.T) {
	t.Run("sends messages and returns response", func(t *testing.T) {
		mockClient := &mockGoogleClient{response: "Hello! I'm Gemini, a helpful AI assistant."}
		m := &ChatModel{client: mockClient, modelName: "gemini-pro"}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hi there!"}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Text != "Hello! I'm Gemini, a helpful AI assistant." {
			t.Errorf("expected specific text, got %q", out.Text)
		}
		if mockClient.callCount != 1 {
			t.Errorf("expected 1 API call, got %d", mockClient.callCount)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		m := &ChatModel{client: &mockGoogleClient{response: "Response"}, modelName: "gemini-pro"}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestGoogleChatModel_SafetyFilters(t *testing.T) {
	t.Run("handles blocked content", func(t *testing.T) {
		mockClient := &mockGoogleClient{err: &SafetyFilterError{reason: "SAFETY", category: "HARM_CATEGORY_DANGEROUS_CONTENT"}}
		m := &ChatModel{client: mockClient, modelName: "gemini-pro"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Dangerous content"}})

		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("expected SafetyFilterError type, got %T", err)
		}
		if safetyErr.Category() != "HARM_CATEGORY_DANGEROUS_CONTENT" {
			t.Errorf("expected specific category, got %q", safetyErr.Category())
		}
	})

	t.Run("passes through non-safety errors", func(t *testing.T) {
		mockClient := &mockGoogleClient{err: errors.New("API error: quota exceeded")}
		m := &ChatModel{client: mockClient, modelName: "gemini-pro"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})

		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			t.Error("expected non-safety error, got SafetyFilterError")
		}
	})
}

func TestGoogleChatModel_ErrorHandling(t *testing.T) {
	t.Run("handles API errors", func(t *testing.T) {
		m := &ChatModel{client: &mockGoogleClient{err: errors.New("API error: invalid request")}, modelName: "gemini-pro"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("handles empty API key", func(t *testing.T) {
		m := NewChatModel("", "gemini-pro")

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}})
		if err == nil {
			t.Error("expected error for empty API key")
		}
	})
}

func TestGoogleChatModel_MessageConversion(t *testing.T) {
	mockClient := &mockGoogleClient{response: "Converted successfully"}
	m := &ChatModel{client: mockClient, modelName: "gemini-pro"}

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
}

type mockGoogleClient struct {
	response     string
	err          error
	callCount    int
	lastMessages []model.Message
}

func (m *mockGoogleClient) generateContent(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	m.callCount++
	m.lastMessages = messages

	if m.err != nil {
		return model.ChatOut{}, m.err
	}
	return model.ChatOut{Text: m.response}, nil
}
