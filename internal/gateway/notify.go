package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// NotifySender delivers one notification message.
type NotifySender interface {
	Send(ctx context.Context, recipient, message string) (receipt string, err error)
}

// Notifier implements the notify tool over a pluggable sender.
// Notification is best-effort by contract; the orchestrator treats
// failures as non-fatal, so the handler just reports them.
type Notifier struct {
	sender NotifySender
	logger *zap.Logger
}

// NewNotifier creates the notification tool handler.
func NewNotifier(sender NotifySender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) Name() string { return ToolNotify }

func (n *Notifier) RequiredArgs() []string { return []string{"recipient", "message"} }

func (n *Notifier) Invoke(ctx context.Context, args Args) (Result, error) {
	recipient := stringArg(args, "recipient")
	message := stringArg(args, "message")

	receipt, err := n.sender.Send(ctx, recipient, message)
	if err != nil {
		return nil, fmt.Errorf("notification delivery failed: %w", err)
	}

	return Result{"status": "SENT", "receipt": receipt}, nil
}

// LogSender is the default notification backend: it records the
// message in the log and succeeds.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only notification sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification and returns a synthetic receipt.
func (s *LogSender) Send(ctx context.Context, recipient, message string) (string, error) {
	s.logger.Info("Notification (log backend)",
		zap.String("recipient", recipient),
		zap.String("message", message))
	return "log-delivery", nil
}

// LarkSender delivers notifications through the Lark messaging API,
// addressing recipients by email.
type LarkSender struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkSender creates a Lark-backed notification sender.
func NewLarkSender(appID, appSecret string, logger *zap.Logger) *LarkSender {
	client := lark.NewClient(appID, appSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkSender{client: client, logger: logger}
}

// Send sends a text message to the recipient's email address.
func (s *LarkSender) Send(ctx context.Context, recipient, message string) (string, error) {
	content, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return "", fmt.Errorf("failed to encode message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("email").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(recipient).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := s.client.Im.Message.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to send Lark message",
			zap.String("recipient", recipient),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		s.logger.Error("Lark API returned failure",
			zap.String("recipient", recipient),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	return messageID, nil
}
