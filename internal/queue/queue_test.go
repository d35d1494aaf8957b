package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastQueue() *InMemoryQueue {
	q := NewInMemoryQueue(zerolog.Nop())
	q.backoff = func(int) time.Duration { return time.Millisecond }
	return q
}

func TestInMemoryQueueDelivers(t *testing.T) {
	q := fastQueue()
	defer q.Close()

	var got BatchTask
	require.NoError(t, q.Subscribe("batches", func(_ context.Context, body []byte) error {
		var err error
		got, err = DecodeBatchTask(body)
		return err
	}))

	require.NoError(t, q.Publish(context.Background(), "batches", BatchTask{CampaignID: "c-1", BatchSize: 1}))
	q.Wait()
	assert.Equal(t, BatchTask{CampaignID: "c-1", BatchSize: 1}, got)
}

func TestInMemoryQueueNoSubscribers(t *testing.T) {
	q := fastQueue()
	defer q.Close()
	require.Error(t, q.Publish(context.Background(), "nobody", "x"))
}

func TestInMemoryQueueRetriesThenGivesUp(t *testing.T) {
	q := fastQueue()
	defer q.Close()

	var calls int32
	require.NoError(t, q.Subscribe("t", func(context.Context, []byte) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))
	require.NoError(t, q.Publish(context.Background(), "t", 1))
	q.Wait()
	assert.Equal(t, int32(DefaultMaxRetries+1), atomic.LoadInt32(&calls))
}

func TestInMemoryQueueRetrySucceeds(t *testing.T) {
	q := fastQueue()
	defer q.Close()

	var calls int32
	require.NoError(t, q.Subscribe("t", func(context.Context, []byte) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, q.Publish(context.Background(), "t", 1))
	q.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDecodeBatchTask(t *testing.T) {
	_, err := DecodeBatchTask([]byte(`{"batch_size":1}`))
	require.Error(t, err)
	_, err = DecodeBatchTask([]byte(`not json`))
	require.Error(t, err)
}

type fakeAck struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func (c *fakeChannel) snapshot() ([]string, []amqp.Publishing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...), append([]amqp.Publishing(nil), c.published...)
}

func TestAMQPQueuePublish(t *testing.T) {
	ch := newFakeChannel()
	q := newAMQPQueue(ch, zerolog.Nop())

	require.NoError(t, q.Publish(context.Background(), "campaign_batches", BatchTask{CampaignID: "c-9", BatchSize: 500}))
	require.NoError(t, q.Publish(context.Background(), "campaign_batches", BatchTask{CampaignID: "c-9", BatchSize: 500}))

	keys, pubs := ch.snapshot()
	assert.Equal(t, []string{"campaign_batches"}, ch.declared)
	assert.Equal(t, []string{"campaign_batches", "campaign_batches"}, keys)
	assert.Equal(t, amqp.Persistent, pubs[0].DeliveryMode)
	assert.JSONEq(t, `{"campaign_id":"c-9","batch_size":500}`, string(pubs[0].Body))
	assert.Equal(t, int32(0), pubs[0].Headers[retryHeader])

	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}

func TestAMQPQueueRetriesByRepublishing(t *testing.T) {
	ch := newFakeChannel()
	q := newAMQPQueue(ch, zerolog.Nop())

	done := make(chan struct{}, 4)
	require.NoError(t, q.Subscribe("t", func(context.Context, []byte) error {
		defer func() { done <- struct{}{} }()
		return errors.New("boom")
	}))

	first := &fakeAck{}
	ch.deliveries <- amqp.Delivery{Acknowledger: first, Body: []byte(`{}`), Headers: amqp.Table{retryHeader: int32(1)}}
	<-done

	last := &fakeAck{}
	ch.deliveries <- amqp.Delivery{Acknowledger: last, Body: []byte(`{}`), Headers: amqp.Table{retryHeader: int32(DefaultMaxRetries)}}
	<-done

	require.NoError(t, q.Close())

	_, pubs := ch.snapshot()
	require.Len(t, pubs, 1)
	assert.Equal(t, int32(2), pubs[0].Headers[retryHeader])
	assert.Equal(t, 1, first.acks)
	assert.Equal(t, 1, last.acks)
}

func TestAMQPQueueAcksSuccess(t *testing.T) {
	ch := newFakeChannel()
	q := newAMQPQueue(ch, zerolog.Nop())

	done := make(chan struct{}, 1)
	require.NoError(t, q.Subscribe("t", func(context.Context, []byte) error {
		done <- struct{}{}
		return nil
	}))
	ack := &fakeAck{}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{}`)}
	<-done
	require.NoError(t, q.Close())

	_, pubs := ch.snapshot()
	assert.Empty(t, pubs)
	assert.Equal(t, 1, ack.acks)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int64(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: 3}))
}
