package rabbitmq

import (
	"context"

	"payment-auth-service/internal/domain"
)

// SettlementPublisher は決済指示を台帳サービス向けのエクスチェンジへ送信する。
type SettlementPublisher struct {
	publisher  Publisher
	exchange   string
	routingKey string
}

// NewSettlementPublisher は新しいSettlementPublisherを生成する。
func NewSettlementPublisher(publisher Publisher, exchange, routingKey string) *SettlementPublisher {
	return &SettlementPublisher{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// PublishSettlement は決済指示を送信する。
func (p *SettlementPublisher) PublishSettlement(ctx context.Context, s *domain.Settlement) error {
	return p.publisher.Publish(ctx, p.exchange, p.routingKey, s)
}
