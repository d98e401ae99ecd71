package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

const llmParserSystemPrompt = `You extract structured data from raw invoice text.
Respond with a JSON object: {"vendor_name": string, "total_amount": number,
"line_items": [{"description": string, "quantity": number, "unit_price": number, "amount": number}]}.
Use 0 or empty values for fields you cannot determine. Do not invent data.`

// LLMParser implements the parse_invoice tool against the OpenAI chat
// completion API with a JSON response format. Registered in place of
// the heuristic parser when an API key is configured.
type LLMParser struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewLLMParser creates the LLM-backed parser handler.
func NewLLMParser(apiKey, model string, temperature float32, maxTokens int, logger *zap.Logger) *LLMParser {
	return &LLMParser{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

func (p *LLMParser) Name() string { return ToolParseInvoice }

func (p *LLMParser) RequiredArgs() []string { return []string{"text"} }

// Invoke sends the invoice text to the model and decodes the JSON reply.
func (p *LLMParser) Invoke(ctx context.Context, args Args) (Result, error) {
	text := stringArg(args, "text")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: llmParserSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var parsed struct {
		VendorName  string            `json:"vendor_name"`
		TotalAmount float64           `json:"total_amount"`
		LineItems   []models.LineItem `json:"line_items"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	p.logger.Debug("LLM parsed invoice text",
		zap.String("model", p.model),
		zap.String("vendor", parsed.VendorName),
		zap.Float64("amount", parsed.TotalAmount))

	return Result{
		"vendor_name":  parsed.VendorName,
		"total_amount": parsed.TotalAmount,
		"line_items":   parsed.LineItems,
	}, nil
}
