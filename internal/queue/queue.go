package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one message body. A non-nil error asks for a retry.
type Handler func(ctx context.Context, body []byte) error

// Queue hands tasks from the API and scheduler to workers.
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// DefaultMaxRetries bounds redeliveries of a failing message.
const DefaultMaxRetries = 3

// InMemoryQueue delivers to in-process subscribers with retry and backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	wg         sync.WaitGroup
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		maxRetries: DefaultMaxRetries,
		backoff:    func(attempt int) time.Duration { return time.Duration(attempt*500) * time.Millisecond },
		logger:     log.With().Str("component", "queue").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

type job struct {
	topic      string
	body       []byte
	retryCount int
}

// Publish sends a message to all subscribers of topic.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.process(handler, job{topic: topic, body: body})
	}
	return nil
}

func (q *InMemoryQueue) process(handler Handler, j job) {
	defer q.wg.Done()
	for {
		err := handler(q.ctx, j.body)
		if err == nil {
			return
		}

		j.retryCount++
		q.logger.Warn().Err(err).
			Str("topic", j.topic).
			Int("attempt", j.retryCount).
			Int("max_retries", q.maxRetries).
			Msg("job failed")

		if j.retryCount > q.maxRetries {
			q.logger.Error().Str("topic", j.topic).RawJSON("payload", j.body).Msg("job permanently failed")
			return
		}

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.backoff(j.retryCount)):
		}
	}
}

// Subscribe adds a handler for a topic.
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close aborts pending retries and waits for running handlers.
func (q *InMemoryQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
