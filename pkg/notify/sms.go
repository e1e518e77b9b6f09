package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/jwalitptl/alleraid-api/pkg/circuitbreaker"
)

type SMSConfig struct {
	BaseURL string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// SMSChannel posts text messages to an HTTP SMS gateway.
type SMSChannel struct {
	client  *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	sender  string
	logger  *zap.Logger
}

func NewSMSChannel(cfg SMSConfig, logger *zap.Logger) *SMSChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &SMSChannel{
		client: client,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "sms-gateway",
			MaxFailures: 5,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		}),
		sender: cfg.Sender,
		logger: logger,
	}
}

func (c *SMSChannel) Name() string { return ChannelSMS }

func (c *SMSChannel) CanReach(r Recipient) bool { return strings.TrimSpace(r.Phone) != "" }

func (c *SMSChannel) Send(ctx context.Context, r Recipient, m Message) error {
	if !c.CanReach(r) {
		return ErrUnreachable
	}

	var result smsResponse
	err := c.breaker.Execute(func() error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(smsRequest{From: c.sender, To: r.Phone, Text: m.Body}).
			SetResult(&result).
			SetError(&result).
			Post("/messages")
		if err != nil {
			return fmt.Errorf("failed to call sms gateway: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), result.Error)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("SMS send failed",
			zap.String("recipient_id", r.UserID.String()),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("SMS sent",
		zap.String("recipient_id", r.UserID.String()),
		zap.String("message_id", result.ID),
	)
	return nil
}
