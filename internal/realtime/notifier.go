package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/metrics"
)

// Event types pushed to clients.
const (
	EventWalletUpdate  = "wallet_update"
	EventOrderUpdate   = "order_status_update"
	EventOutbid        = "auction_outbid"
	EventAuctionWon    = "auction_won"
	EventAuctionClosed = "auction_closed"
	EventPaymentUpdate = "payment_update"
)

// Publisher delivers a user-scoped event after the state change committed.
// Delivery is best effort; failures are logged and never undo the change.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{})
}

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Notifier fans one event out to the local websocket hub, the redis
// notification channel and, when configured, a kafka topic. Any sink may be nil.
type Notifier struct {
	Hub    *Hub
	RDB    redis.UniversalClient
	Kafka  MessageWriter
	Source string
}

func NewNotifier(hub *Hub, rdb redis.UniversalClient, kw MessageWriter) *Notifier {
	return &Notifier{Hub: hub, RDB: rdb, Kafka: kw, Source: "marketplace-escrow"}
}

// NewKafkaWriter builds an async writer for domain events. Returns nil when
// no brokers are configured.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			metrics.PublishErrors.WithLabelValues("kafka").Inc()
			log.Errorf("kafka: "+msg, args...)
		}),
	}
}

func (n *Notifier) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) {
	if n == nil {
		return
	}
	msg := fiber.Map{
		"type": event,
		"data": payload,
		"at":   time.Now().UTC(),
	}

	if n.Hub != nil {
		n.Hub.SendToUser(userID, msg)
	}

	if n.RDB == nil && n.Kafka == nil {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("event", event).Warn("notifier: marshal payload")
		return
	}

	if n.RDB != nil {
		if err := n.RDB.Publish(ctx, NotificationChannel(userID.String()), body).Err(); err != nil {
			metrics.PublishErrors.WithLabelValues("redis").Inc()
			log.WithError(err).WithField("user_id", userID).Warn("notifier: redis publish")
		}
	}

	if n.Kafka != nil {
		err := n.Kafka.WriteMessages(ctx, kafka.Message{
			Key:   []byte(userID.String()),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(event)},
				{Key: "source", Value: []byte(n.Source)},
			},
		})
		if err != nil {
			metrics.PublishErrors.WithLabelValues("kafka").Inc()
			log.WithError(err).WithField("event", event).Warn("notifier: kafka publish")
		}
	}
}

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	UserID  uuid.UUID
	Event   string
	Payload interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, userID uuid.UUID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{UserID: userID, Event: event, Payload: payload})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were published to userID.
func (r *Recorder) Count(userID uuid.UUID, event string) int {
	n := 0
	for _, e := range r.Events() {
		if e.UserID == userID && e.Event == event {
			n++
		}
	}
	return n
}
