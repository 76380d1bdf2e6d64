package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names, one durable queue per event type.
const (
	QueueSettlementCompleted = "settlement.completed"
	QueueRefundCompleted     = "refund.completed"
	QueueWithdrawalResolved  = "withdrawal.resolved"
)

// AMQP publishes events to a RabbitMQ broker. Each publish dials, declares
// the durable queue, and sends a persistent JSON message; any failure along
// the way is logged and dropped.
type AMQP struct {
	url string
}

// NewAMQP returns a publisher for the given broker URL.
func NewAMQP(url string) *AMQP {
	return &AMQP{url: url}
}

func (a *AMQP) SettlementCompleted(ctx context.Context, ev SettlementEvent) {
	a.publish(ctx, QueueSettlementCompleted, ev)
}

func (a *AMQP) RefundCompleted(ctx context.Context, ev RefundEvent) {
	a.publish(ctx, QueueRefundCompleted, ev)
}

func (a *AMQP) WithdrawalResolved(ctx context.Context, ev WithdrawalEvent) {
	a.publish(ctx, QueueWithdrawalResolved, ev)
}

func (a *AMQP) publish(ctx context.Context, queue string, event any) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		log.Printf("notify: dial failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("notify: channel open failed: %v", err)
		return
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		log.Printf("notify: queue declare failed: %v", err)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("notify: marshal event failed: %v", err)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		log.Printf("notify: publish to %s failed: %v", queue, err)
	}
}

var _ Notifier = (*AMQP)(nil)
