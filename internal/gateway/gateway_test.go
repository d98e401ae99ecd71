package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// stubHandler is a configurable handler for dispatch tests.
type stubHandler struct {
	name     string
	required []string
	invoke   func(ctx context.Context, args Args) (Result, error)
}

func (h *stubHandler) Name() string           { return h.name }
func (h *stubHandler) RequiredArgs() []string { return h.required }
func (h *stubHandler) Invoke(ctx context.Context, args Args) (Result, error) {
	return h.invoke(ctx, args)
}

func TestGateway_Invoke_UnknownTool(t *testing.T) {
	gw := New(time.Second, zap.NewNop())

	_, err := gw.Invoke(context.Background(), "no_such_tool", Args{})

	var unavailable *models.ToolUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "no_such_tool", unavailable.Tool)
}

func TestGateway_Invoke_MissingRequiredArg(t *testing.T) {
	gw := New(time.Second, zap.NewNop())
	gw.Register(&stubHandler{
		name:     "echo",
		required: []string{"text"},
		invoke: func(ctx context.Context, args Args) (Result, error) {
			return Result{"text": args["text"]}, nil
		},
	})

	_, err := gw.Invoke(context.Background(), "echo", Args{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argument")
}

func TestGateway_Invoke_Timeout(t *testing.T) {
	gw := New(20*time.Millisecond, zap.NewNop())
	gw.Register(&stubHandler{
		name: "slow",
		invoke: func(ctx context.Context, args Args) (Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return Result{}, nil
			}
		},
	})

	_, err := gw.Invoke(context.Background(), "slow", Args{})

	var timeout *models.ToolTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow", timeout.Tool)
}

func TestGateway_Invoke_PassesThroughHandlerError(t *testing.T) {
	gw := New(time.Second, zap.NewNop())
	sentinel := errors.New("backend unavailable")
	gw.Register(&stubHandler{
		name: "flaky",
		invoke: func(ctx context.Context, args Args) (Result, error) {
			return nil, sentinel
		},
	})

	_, err := gw.Invoke(context.Background(), "flaky", Args{})
	assert.ErrorIs(t, err, sentinel)
}

func TestGateway_Register_ReplacesHandler(t *testing.T) {
	gw := New(time.Second, zap.NewNop())
	gw.Register(&stubHandler{
		name: "echo",
		invoke: func(ctx context.Context, args Args) (Result, error) {
			return Result{"version": "first"}, nil
		},
	})
	gw.Register(&stubHandler{
		name: "echo",
		invoke: func(ctx context.Context, args Args) (Result, error) {
			return Result{"version": "second"}, nil
		},
	})

	result, err := gw.Invoke(context.Background(), "echo", Args{})
	require.NoError(t, err)
	assert.Equal(t, "second", StringField(result, "version"))
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name       string
		capability string
		callCtx    map[string]string
		expected   string
	}{
		{
			name:       "png routes to google vision",
			capability: CapabilityOCR,
			callCtx:    map[string]string{"filename": "invoice.PNG"},
			expected:   BackendGoogleVision,
		},
		{
			name:       "jpg routes to google vision",
			capability: CapabilityOCR,
			callCtx:    map[string]string{"filename": "scan.jpg"},
			expected:   BackendGoogleVision,
		},
		{
			name:       "pdf routes to textract",
			capability: CapabilityOCR,
			callCtx:    map[string]string{"filename": "invoice.pdf"},
			expected:   BackendAWSTextract,
		},
		{
			name:       "other extensions route to tesseract",
			capability: CapabilityOCR,
			callCtx:    map[string]string{"filename": "invoice.txt"},
			expected:   BackendTesseract,
		},
		{
			name:       "corp vendor routes to clearbit",
			capability: CapabilityEnrichment,
			callCtx:    map[string]string{"vendor": "Acme Corp"},
			expected:   BackendClearbit,
		},
		{
			name:       "other vendor routes to people data labs",
			capability: CapabilityEnrichment,
			callCtx:    map[string]string{"vendor": "Globex Inc"},
			expected:   BackendPeopleDataLabs,
		},
		{
			name:       "erp is pinned to sap connector",
			capability: CapabilityERP,
			callCtx:    nil,
			expected:   BackendSAPConnector,
		},
		{
			name:       "unknown capability falls back to default",
			capability: "unknown",
			callCtx:    nil,
			expected:   BackendDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectBackend(tt.capability, tt.callCtx))
		})
	}
}

func TestParseInvoiceText(t *testing.T) {
	text := `INVOICE #2026-041
Vendor: Acme Corp
ITEM Industrial widgets x100 @ 40.00
ITEM Widget assembly service x10 @ 100.00
Total amount: $5,000.00`

	parsed := ParseInvoiceText(text)

	assert.Equal(t, "ACME CORP", parsed.VendorName)
	assert.Equal(t, 5000.00, parsed.TotalAmount)
	require.Len(t, parsed.LineItems, 2)
	assert.Equal(t, models.LineItem{
		Description: "Industrial widgets",
		Quantity:    100,
		UnitPrice:   40.00,
		Amount:      4000.00,
	}, parsed.LineItems[0])
	assert.Equal(t, 1000.00, parsed.LineItems[1].Amount)
}

func TestParseInvoiceText_UnknownInputYieldsZeroValues(t *testing.T) {
	parsed := ParseInvoiceText("nothing recognizable here")

	assert.Empty(t, parsed.VendorName)
	assert.Zero(t, parsed.TotalAmount)
	assert.Empty(t, parsed.LineItems)
}

func TestParseLineItem_DefaultsQuantityToOne(t *testing.T) {
	item, ok := parseLineItem("ITEM Annual platform license @ 10000.00")

	require.True(t, ok)
	assert.Equal(t, "Annual platform license", item.Description)
	assert.Equal(t, 1.0, item.Quantity)
	assert.Equal(t, 10000.00, item.Amount)
}
