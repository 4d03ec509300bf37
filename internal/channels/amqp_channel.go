package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

// AMQPChannel feeds the phone-call queue: an operator service consumes
// the exchange and places outbound calls. Publishing is fire-and-queue;
// "sent" is the strongest status this transport can report.
type AMQPChannel struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPChannel(url, exchange string, logger *zap.Logger) *AMQPChannel {
	return &AMQPChannel{url: url, exchange: exchange, logger: logger}
}

func (c *AMQPChannel) Name() string {
	return models.ChannelPhoneCall
}

// connect dials lazily and redials after a dropped connection. Held
// under mu by the caller.
func (c *AMQPChannel) connect() error {
	if c.ch != nil && c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %q: %w", c.exchange, err)
	}

	c.conn = conn
	c.ch = ch
	c.logger.Info("Connected to AMQP broker", zap.String("exchange", c.exchange))
	return nil
}

type callRequest struct {
	Recipient string `json:"recipient"`
	CaseID    string `json:"case_id"`
	Severity  string `json:"severity"`
	Script    string `json:"script"`
}

func (c *AMQPChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return "", err
	}

	body, err := json.Marshal(callRequest{
		Recipient: recipient,
		CaseID:    msg.CaseID,
		Severity:  msg.Severity,
		Script:    msg.Body,
	})
	if err != nil {
		return "", err
	}

	err = c.ch.Publish(c.exchange, "crisis.call."+msg.Severity, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.CaseID,
		Body:         body,
	})
	if err != nil {
		// Drop the dead connection so the next attempt redials.
		c.ch = nil
		return "", fmt.Errorf("failed to publish call request: %w", err)
	}

	return "sent", nil
}

// Close shuts the broker connection down.
func (c *AMQPChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
