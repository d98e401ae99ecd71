// Package gateway provides the uniform tool call interface between the
// orchestrator and external capabilities (OCR, parsing, vendor
// enrichment, ERP retrieval and posting, notification). Tools are
// dispatched through a capability-keyed table; each call is stateless,
// validated against the tool's argument schema, and bounded by a
// per-call timeout. Which backing service implements a tool is
// invisible to the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// Tool names understood by the orchestrator.
const (
	ToolOCRExtract   = "ocr_extract"
	ToolParseInvoice = "parse_invoice"
	ToolEnrichVendor = "enrich_vendor"
	ToolFetchPO      = "fetch_po"
	ToolPostToERP    = "post_to_erp"
	ToolNotify       = "notify"
)

// Args are the structured arguments of a tool call.
type Args map[string]any

// Result is the structured result of a tool call.
type Result map[string]any

// Handler implements one tool behind the gateway.
type Handler interface {
	Name() string
	// RequiredArgs is the fixed argument schema the gateway validates
	// before dispatching.
	RequiredArgs() []string
	Invoke(ctx context.Context, args Args) (Result, error)
}

// Gateway dispatches tool calls to registered handlers.
type Gateway struct {
	handlers map[string]Handler
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a gateway with the given per-call timeout.
func New(timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		logger:   logger,
	}
}

// Register adds a handler to the dispatch table, replacing any handler
// previously registered under the same name.
func (g *Gateway) Register(h Handler) {
	g.handlers[h.Name()] = h
}

// Invoke dispatches one tool call. Unknown tools fail with
// ToolUnavailable; calls exceeding the per-call deadline fail with
// ToolTimeout.
func (g *Gateway) Invoke(ctx context.Context, tool string, args Args) (Result, error) {
	handler, ok := g.handlers[tool]
	if !ok {
		return nil, &models.ToolUnavailable{Tool: tool}
	}

	for _, name := range handler.RequiredArgs() {
		if _, present := args[name]; !present {
			return nil, fmt.Errorf("tool %q: missing required argument %q", tool, name)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	result, err := handler.Invoke(callCtx, args)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			g.logger.Warn("Tool call timed out",
				zap.String("tool", tool),
				zap.Duration("timeout", g.timeout))
			return nil, &models.ToolTimeout{Tool: tool, Timeout: g.timeout}
		}
		g.logger.Warn("Tool call failed",
			zap.String("tool", tool),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	g.logger.Debug("Tool call completed",
		zap.String("tool", tool),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// Helpers for reading typed values out of Args and Result maps.

func stringArg(args Args, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args Args, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// StringField reads a string field from a result map.
func StringField(r Result, key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// FloatField reads a numeric field from a result map.
func FloatField(r Result, key string) float64 {
	if v, ok := r[key].(float64); ok {
		return v
	}
	return 0
}

// BoolField reads a boolean field from a result map.
func BoolField(r Result, key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}
