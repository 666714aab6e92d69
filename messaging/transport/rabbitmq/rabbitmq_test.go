package rabbitmq

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = append(f.requeue, requeue)
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

func newTestTransport(dead *[]string) *Transport {
	return NewTransport(Config{
		MaxDeliver: 3,
		Retry:      retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond},
		DeadLetter: func(ctx context.Context, m messaging.IMessage, err error) { *dead = append(*dead, m.GetID()) },
	})
}

func delivery(t *testing.T, ack amqp.Acknowledger, headers amqp.Table) (amqp.Delivery, messaging.IMessage) {
	t.Helper()
	msg := messaging.NewCommand("c-1", "inventory.grant-items", "corr-1", map[string]any{"quantity": 3})
	pub, err := toPublishing(msg)
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger:  ack,
		Headers:       headers,
		RoutingKey:    msg.GetType(),
		MessageId:     pub.MessageId,
		CorrelationId: pub.CorrelationId,
		Body:          pub.Body,
	}, msg
}

func TestSettle_AckAndDeadLetter(t *testing.T) {
	var dead []string
	tpt := newTestTransport(&dead)
	ctx := context.Background()

	ok := &fakeAcknowledger{}
	d, msg := delivery(t, ok, nil)
	tpt.settle(ctx, d, msg, nil, 1)
	assert.Equal(t, 1, ok.acks)

	permanent := &fakeAcknowledger{}
	d, msg = delivery(t, permanent, nil)
	tpt.settle(ctx, d, msg, retry.Permanent(errors.New("unknown item")), 1)
	assert.Equal(t, []bool{false}, permanent.requeue)

	exhausted := &fakeAcknowledger{}
	d, msg = delivery(t, exhausted, amqp.Table{HeaderDelivered: int32(3)})
	tpt.settle(ctx, d, msg, errors.New("db down"), deliveredCount(d.Headers))
	assert.Equal(t, []bool{false}, exhausted.requeue)

	assert.Equal(t, []string{"c-1", "c-1"}, dead)
	assert.Equal(t, int64(2), tpt.Stats().DeadLetters)
}

// TestSettle_RedeliverRepublishesWithCount 暂时性失败重新发布并递增投递计数
func TestSettle_RedeliverRepublishesWithCount(t *testing.T) {
	var dead []string
	tpt := newTestTransport(&dead)

	var republished []amqp.Publishing
	var keys []string
	tpt.republish = func(ctx context.Context, key string, p amqp.Publishing) error {
		keys = append(keys, key)
		republished = append(republished, p)
		return nil
	}

	ack := &fakeAcknowledger{}
	d, msg := delivery(t, ack, nil)
	tpt.settle(context.Background(), d, msg, errors.New("db down"), deliveredCount(d.Headers))

	require.Len(t, republished, 1)
	assert.Equal(t, []string{"inventory.grant-items"}, keys)
	assert.Equal(t, int32(2), republished[0].Headers[HeaderDelivered])
	assert.Equal(t, d.Body, republished[0].Body)
	assert.Equal(t, "corr-1", republished[0].CorrelationId)
	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, dead)
}

func TestSettle_RepublishFailureRequeues(t *testing.T) {
	var dead []string
	tpt := newTestTransport(&dead)
	tpt.republish = func(context.Context, string, amqp.Publishing) error { return errors.New("channel closed") }

	ack := &fakeAcknowledger{}
	d, msg := delivery(t, ack, nil)
	tpt.settle(context.Background(), d, msg, errors.New("db down"), 1)

	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, []bool{true}, ack.requeue)
}

func TestHandleDelivery_UndecodableGoesToDeadLetterQueue(t *testing.T) {
	var dead []string
	tpt := newTestTransport(&dead)
	ack := &fakeAcknowledger{}

	tpt.handleDelivery(context.Background(), "x", amqp.Delivery{Acknowledger: ack, Body: []byte("not json")})

	assert.Equal(t, []bool{false}, ack.requeue)
}

func TestHandleDelivery_DispatchesToHandlers(t *testing.T) {
	var dead []string
	tpt := newTestTransport(&dead)
	var got []string
	require.NoError(t, tpt.Subscribe("inventory.grant-items", messaging.NewHandler("grant", func(ctx context.Context, m messaging.IMessage) error {
		got = append(got, messaging.CorrelationID(m))
		return nil
	})))

	ack := &fakeAcknowledger{}
	d, _ := delivery(t, ack, nil)
	tpt.handleDelivery(context.Background(), "inventory.grant-items", d)

	assert.Equal(t, []string{"corr-1"}, got)
	assert.Equal(t, 1, ack.acks)
}

func TestNamesAndCounts(t *testing.T) {
	tpt := NewTransport(Config{})
	assert.Equal(t, "playtrade.identity.debit-gil", tpt.queueName("identity.debit-gil"))
	assert.Equal(t, "playtrade.all", tpt.queueName("*"))
	assert.Equal(t, "#", bindingKey("*"))
	assert.Equal(t, "playtrade.dlx", tpt.deadLetterExchange())

	assert.Equal(t, 1, deliveredCount(nil))
	assert.Equal(t, 4, deliveredCount(amqp.Table{HeaderDelivered: int64(4)}))
}

// TestTransport_LiveRoundTrip 需要 RABBITMQ_URL 指向可用的 broker
func TestTransport_LiveRoundTrip(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		t.Skipf("rabbitmq unavailable: %v", err)
	}
	defer conn.Close()

	suffix := time.Now().Format("150405.000000")
	tpt := NewTransport(Config{Conn: conn, Exchange: "playtrade-test-" + suffix, QueuePrefix: "playtrade-test-" + suffix + "."})
	received := make(chan messaging.IMessage, 1)
	require.NoError(t, tpt.Subscribe("catalog.item-created", messaging.NewHandler("probe", func(ctx context.Context, m messaging.IMessage) error {
		received <- m
		return nil
	})))
	require.NoError(t, tpt.Start(context.Background()))
	defer tpt.Close()

	require.NoError(t, tpt.Publish(context.Background(), messaging.NewEvent("e-1", "catalog.item-created", "", map[string]string{"name": "Potion"})))

	select {
	case m := <-received:
		assert.Equal(t, "e-1", m.GetID())
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
