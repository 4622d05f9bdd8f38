// Package steps provides ready-made StepFunc adapters for common
// aggregate-and-call-an-API patterns, starting with LLM chat completion.
// Each adapter batches a step's accumulated payloads into one prompt so a
// single provider call serves every record in the batch.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/batchforge/batchengine/batch"
	"github.com/batchforge/batchengine/model"
	"github.com/batchforge/batchengine/model/anthropic"
	"github.com/batchforge/batchengine/model/google"
	"github.com/batchforge/batchengine/model/openai"
)

// Render turns one step's accumulated payloads into the user message sent
// to the model. Implementations typically join string payloads with a
// separator or serialize structured payloads into a numbered list.
type Render func(payloads []interface{}) string

// JoinLines renders payloads as one line each, in batch order, via
// fmt.Sprint — a reasonable default for payloads that are already strings
// or stringify sensibly.
func JoinLines(payloads []interface{}) string {
	lines := make([]string, len(payloads))
	for i, p := range payloads {
		lines[i] = fmt.Sprint(p)
	}
	return strings.Join(lines, "\n")
}

// ChatStep builds a StepFunc that sends one Chat call per dispatch: a
// system message plus a user message built from the batch via render, and
// returns the response text as the step's output payload.
func ChatStep(chat model.ChatModel, systemPrompt string, render Render) batch.StepFunc {
	return func(ctx context.Context, payloads []interface{}) (interface{}, error) {
		messages := []model.Message{
			{Role: model.RoleSystem, Content: systemPrompt},
			{Role: model.RoleUser, Content: render(payloads)},
		}
		out, err := chat.Chat(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("steps: chat call: %w", err)
		}
		return out.Text, nil
	}
}

// AnthropicSummarize returns a StepFunc that asks an Anthropic model to
// summarize a batch of payloads in one call.
func AnthropicSummarize(apiKey, modelName string) batch.StepFunc {
	chat := anthropic.NewChatModel(apiKey, modelName)
	return ChatStep(chat, "Summarize the following batch of records concisely.", JoinLines)
}

// OpenAIClassify returns a StepFunc that asks an OpenAI model to classify
// each line of a batch, one label per input line, in one call.
func OpenAIClassify(apiKey, modelName string, labels []string) batch.StepFunc {
	chat := openai.NewChatModel(apiKey, modelName)
	systemPrompt := fmt.Sprintf(
		"Classify each of the following lines into exactly one of these labels: %s. "+
			"Respond with one label per line, in the same order as the input, and nothing else.",
		strings.Join(labels, ", "),
	)
	return ChatStep(chat, systemPrompt, JoinLines)
}

// GeminiTranslate returns a StepFunc that asks a Google Gemini model to
// translate a batch of lines into targetLanguage in one call.
func GeminiTranslate(apiKey, modelName, targetLanguage string) batch.StepFunc {
	chat := google.NewChatModel(apiKey, modelName)
	systemPrompt := fmt.Sprintf(
		"Translate each of the following lines into %s. "+
			"Respond with one translated line per input line, in the same order, and nothing else.",
		targetLanguage,
	)
	return ChatStep(chat, systemPrompt, JoinLines)
}
