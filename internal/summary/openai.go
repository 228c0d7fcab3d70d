// Package summary generates the short texts attached to issue updates.
package summary

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// defaultInstruction is used when no prompt is configured. Issue updates
// render in a one-line timeline, so the model is steered toward a single
// factual sentence rather than a paragraph.
const defaultInstruction = "Summarize this stablecoin or crypto-regulation news item " +
	"in one or two factual sentences for an issue timeline. " +
	"Name the regulators, issuers and assets involved. No opinions, no markdown."

// OpenAISummarizer condenses article text into issue-update summaries.
// Without an API key it stays disabled and returns empty strings, letting
// callers fall back to the fixed update line.
type OpenAISummarizer struct {
	client      *openai.Client
	instruction string
	enabled     bool
	mu          sync.Mutex
}

func NewOpenAISummarizer(apiKey, instruction string) *OpenAISummarizer {
	if instruction == "" {
		instruction = defaultInstruction
	}

	s := &OpenAISummarizer{
		client:      openai.NewClient(apiKey),
		instruction: instruction,
	}

	log.Printf("openai summarizer enabled: %v", apiKey != "")

	if apiKey != "" {
		s.enabled = true
	}

	return s
}

// Summarize asks the model for a condensed summary of the article text.
// The result is trimmed to end on a full sentence.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return "", nil
	}

	request := openai.ChatCompletionRequest{
		Model: "gpt-3.5-turbo",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: s.instruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		MaxTokens:   256,
		Temperature: 0.3,
		TopP:        1,
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", err
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if strings.HasSuffix(raw, ".") || !strings.Contains(raw, ".") {
		return raw, nil
	}

	// Drop the trailing unfinished sentence.
	sentences := strings.Split(raw, ".")
	return strings.Join(sentences[:len(sentences)-1], ".") + ".", nil
}
