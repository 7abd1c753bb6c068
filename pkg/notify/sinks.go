package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// LogNotifier writes every event to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notice")}
}

func (n *LogNotifier) Notify(ctx context.Context, evt Event) error {
	n.logger.Info("Order notice",
		zap.String("kind", string(evt.Kind)),
		zap.Int64("order_id", evt.OrderID),
		zap.String("text", evt.Text()))
	return nil
}

// AuditLog is one audit entry per event.
type AuditLog struct {
	Service   string    `bson:"service"`
	Action    string    `bson:"action"`
	EntityID  int64     `bson:"entity_id"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// AuditNotifier records events in a MongoDB collection.
type AuditNotifier struct {
	collection *mongo.Collection
	service    string
}

func NewAuditNotifier(collection *mongo.Collection, service string) *AuditNotifier {
	return &AuditNotifier{collection: collection, service: service}
}

func (n *AuditNotifier) Notify(ctx context.Context, evt Event) error {
	data := bson.M{
		"status": string(evt.Status),
		"total":  evt.Total,
		"phone":  evt.Customer.Phone,
		"manual": evt.Manual,
	}
	if evt.Item != nil {
		data["item"] = evt.Item.Name
		data["item_status"] = string(evt.Item.Status)
	}
	_, err := n.collection.InsertOne(ctx, &AuditLog{
		Service:   n.service,
		Action:    string(evt.Kind),
		EntityID:  evt.OrderID,
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// AMQPPublisher publishes events to a topic exchange, routed by event kind.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

type message struct {
	Pattern string `json:"pattern"`
	Data    Event  `json:"data"`
	Text    string `json:"text"`
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

func (p *AMQPPublisher) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(message{Pattern: string(evt.Kind), Data: evt, Text: evt.Text()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		p.exchange,
		string(evt.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    evt.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
