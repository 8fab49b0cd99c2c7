// Package rabbitmq は決済指示などのイベントをRabbitMQへ送信するプロデューサーを提供する。
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher はイベント送信のインターフェース。
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// EventProducer はRabbitMQのトピックエクスチェンジへJSONイベントを送信する。
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer はRabbitMQへ接続してEventProducerを生成する。
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		declared: make(map[string]bool),
	}, nil
}

// Publish はbodyをJSONにして指定のエクスチェンジへ送信する。
// エクスチェンジは初回送信時に永続トピックとして宣言する。
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange: %w", err)
		}
		p.declared[exchange] = true
	}

	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         jsonBody,
	})
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	slog.DebugContext(ctx, "event published",
		"exchange", exchange,
		"routing_key", routingKey,
	)
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher はRabbitMQ未設定時に使う、送信内容をログに残すだけのPublisher。
type NoopPublisher struct{}

// Publish はイベントを送信せずにログのみ出力する。
func (NoopPublisher) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	slog.WarnContext(ctx, "rabbitmq not configured, event dropped",
		"exchange", exchange,
		"routing_key", routingKey,
	)
	return nil
}
