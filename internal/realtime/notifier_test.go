package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/testutil"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestNotifierFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	user := uuid.New()
	client := &Client{ID: "c1", UserID: user, Send: make(chan []byte, 4)}
	hub.RegisterClient(client)
	require.Eventually(t, func() bool { return hub.Connected(user) == 1 }, time.Second, 5*time.Millisecond)

	rdb, _ := testutil.NewRedis(t)
	sub := rdb.Subscribe(ctx, NotificationChannel(user.String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	kw := &fakeWriter{}
	n := NewNotifier(hub, rdb, kw)
	n.Publish(ctx, user, EventWalletUpdate, map[string]string{"available": "70.00"})

	select {
	case raw := <-client.Send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, EventWalletUpdate, msg["type"])
	case <-time.After(time.Second):
		t.Fatal("hub did not deliver")
	}

	select {
	case m := <-sub.Channel():
		assert.Contains(t, m.Payload, `"wallet_update"`)
	case <-time.After(time.Second):
		t.Fatal("redis did not deliver")
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()
	require.Len(t, kw.msgs, 1)
	assert.Equal(t, user.String(), string(kw.msgs[0].Key))
	assert.Equal(t, "event", kw.msgs[0].Headers[0].Key)
}

func TestNotifierSurvivesSinkFailures(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	n := NewNotifier(nil, rdb, &fakeWriter{err: errors.New("broker down")})
	assert.NotPanics(t, func() {
		n.Publish(context.Background(), uuid.New(), EventOrderUpdate, nil)
	})

	var nilNotifier *Notifier
	assert.NotPanics(t, func() {
		nilNotifier.Publish(context.Background(), uuid.New(), EventOrderUpdate, nil)
	})
}

func TestHubOnlyReachesOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	a, b := uuid.New(), uuid.New()
	ca := &Client{ID: "a", UserID: a, Send: make(chan []byte, 1)}
	cb := &Client{ID: "b", UserID: b, Send: make(chan []byte, 1)}
	hub.RegisterClient(ca)
	hub.RegisterClient(cb)
	require.Eventually(t, func() bool { return hub.Connected(a)+hub.Connected(b) == 2 }, time.Second, 5*time.Millisecond)

	hub.SendToUser(a, map[string]string{"type": "x"})
	assert.Len(t, ca.Send, 1)
	assert.Len(t, cb.Send, 0)

	hub.UnregisterClient(ca)
	require.Eventually(t, func() bool { return hub.Connected(a) == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewKafkaWriterDisabled(t *testing.T) {
	assert.Nil(t, NewKafkaWriter(nil, "topic"))
	w := NewKafkaWriter([]string{"localhost:9092"}, "topic")
	require.NotNil(t, w)
	assert.Equal(t, "topic", w.Topic)
}
