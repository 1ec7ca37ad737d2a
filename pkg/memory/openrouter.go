package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterClient calls the OpenRouter chat-completions API for memory
// extraction.
type OpenRouterClient struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey string
	Model  string
}

// NewOpenRouterClient creates a client for memory extraction.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		url:    openRouterURL,
		client: &http.Client{Timeout: time.Minute},
	}
}

// ExtractionResult represents the LLM's extracted memories.
type ExtractionResult struct {
	Memories []ExtractedMemory `json:"memories"`
}

// ExtractedMemory is a single memory extracted by the LLM.
type ExtractedMemory struct {
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	Confidence float64 `json:"confidence"`
}

// MessageInput represents one conversation message for extraction.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model          string          `json:"model"`
	Messages       []openRouterMsg `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// ExtractMemories asks the LLM for factual observations in the given
// conversation. Invalid memory types and out-of-range confidences are
// normalized rather than rejected.
func (c *OpenRouterClient) ExtractMemories(ctx context.Context, messages []MessageInput) (*ExtractionResult, error) {
	req := openRouterRequest{
		Model: c.model,
		Messages: []openRouterMsg{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: buildExtractionPrompt(messages)},
		},
		Temperature:    0.3,
		MaxTokens:      4096,
		Stream:         false,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("memory: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("memory: HTTP %d: %s", httpResp.StatusCode, snippet)
	}

	var resp openRouterResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("memory: parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("memory: API error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("memory: empty response")
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("memory: parse extraction result: %w", err)
	}

	for i := range result.Memories {
		if !isValidMemoryType(result.Memories[i].MemoryType) {
			result.Memories[i].MemoryType = "fact"
		}
		if result.Memories[i].Confidence < 0 || result.Memories[i].Confidence > 1 {
			result.Memories[i].Confidence = 0.5
		}
	}
	return &result, nil
}

// extractionSystemPrompt is the system prompt for memory extraction.
const extractionSystemPrompt = `You are a memory extraction system. Your task is to extract factual observations from conversations.

You must return a JSON object with this exact structure:
{
  "memories": [
    {
      "content": "The extracted fact as a clear, self-contained statement",
      "memory_type": "fact|preference|entity_mention|relation",
      "confidence": 0.0-1.0
    }
  ]
}

Memory Type Guidelines:
- "fact": Objective statements about the world, events, or circumstances
- "preference": User preferences, likes, dislikes, or opinions
- "entity_mention": References to specific people, places, things, or concepts
- "relation": Relationships between entities (e.g., "X works at Y")

Extraction Rules:
1. Extract only EXPLICIT information, not assumptions or implications
2. Each memory should be atomic and self-contained
3. Prefer specific over vague statements
4. Ignore greetings, pleasantries, and meta-conversation
5. Combine related information into single memories when appropriate
6. Assign high confidence (0.8-1.0) only for explicit, unambiguous statements
7. Assign medium confidence (0.5-0.7) for implied or contextual information
8. Assign low confidence (0.0-0.4) for uncertain or ambiguous extractions

If no meaningful memories can be extracted, return: {"memories": []}`

// buildExtractionPrompt creates the user prompt from conversation messages.
func buildExtractionPrompt(messages []MessageInput) string {
	prompt := "Extract memories from the following conversation:\n\n"
	for _, msg := range messages {
		prompt += fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content)
	}
	return prompt
}

func isValidMemoryType(mt string) bool {
	switch mt {
	case "fact", "preference", "entity_mention", "relation":
		return true
	default:
		return false
	}
}
