// Package queue forwards session events to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"go-session-auth/internal/event"
)

const (
	DefaultBuffer       = 256
	defaultSendTimeout  = 2 * time.Second
	defaultDrainTimeout = 5 * time.Second
)

// SendFunc delivers one message to the broker. It must honour ctx.
type SendFunc func(ctx context.Context, msg amqp.Publishing) error

// Publisher hands events from the bus to a background worker through a
// bounded buffer. Handle never waits on the broker; when the buffer is full
// or the connection is blocked or closed, events are dropped and logged.
type Publisher struct {
	send         SendFunc
	sendTimeout  time.Duration
	drainTimeout time.Duration
	events       chan event.Event
	done         chan struct{}

	closeMu sync.RWMutex
	closed  bool

	blocked atomic.Bool
	broken  atomic.Bool
	dropped atomic.Int64

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewForwarder starts a worker that passes each buffered event to send.
func NewForwarder(send SendFunc, buffer int) *Publisher {
	return newForwarder(send, buffer, defaultSendTimeout, defaultDrainTimeout)
}

func newForwarder(send SendFunc, buffer int, sendTimeout, drainTimeout time.Duration) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &Publisher{
		send:         send,
		sendTimeout:  sendTimeout,
		drainTimeout: drainTimeout,
		events:       make(chan event.Event, buffer),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

// NewPublisher dials the broker, declares a durable queue and puts the
// channel in confirm mode.
func NewPublisher(url string, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	p := NewForwarder(confirmedSend(ch, queue), DefaultBuffer)
	p.conn = conn
	p.ch = ch
	p.watch(conn.NotifyBlocked(make(chan amqp.Blocking, 1)), conn.NotifyClose(make(chan *amqp.Error, 1)))
	return p, nil
}

// confirmedSend publishes to the default exchange and waits for the broker
// ack. PublishWithDeferredConfirmWithContext ignores its context, so the
// deadline is applied to the confirmation instead.
func confirmedSend(ch *amqp.Channel, queue string) SendFunc {
	return func(ctx context.Context, msg amqp.Publishing) error {
		conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
		if err != nil {
			return fmt.Errorf("rabbitmq publish: %w", err)
		}
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("rabbitmq confirm: %w", err)
		}
		if !acked {
			return errors.New("rabbitmq publish nacked")
		}
		return nil
	}
}

func newPublishing(e event.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// watch tracks broker flow control and connection loss. Both channels are
// closed by the library on shutdown.
func (p *Publisher) watch(blocked <-chan amqp.Blocking, closed <-chan *amqp.Error) {
	go func() {
		for {
			select {
			case b, ok := <-blocked:
				if !ok {
					blocked = nil
					continue
				}
				p.blocked.Store(b.Active)
				if b.Active {
					slog.Warn("broker applied flow control, dropping session events", "reason", b.Reason)
				} else {
					slog.Info("broker flow control lifted")
				}
			case err, ok := <-closed:
				p.broken.Store(true)
				if ok && err != nil {
					slog.Error("broker connection lost, session events are no longer forwarded", "error", err)
				}
				return
			}
		}
	}()
}

// Handle is the event bus subscriber. It only enqueues.
func (p *Publisher) Handle(_ context.Context, e event.Event) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.drop(e, "publisher closed")
		return
	}

	select {
	case p.events <- e:
	default:
		p.drop(e, "buffer full")
	}
}

// Dropped reports how many events were discarded without reaching the broker.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.events {
		p.forward(e)
	}
}

func (p *Publisher) forward(e event.Event) {
	switch {
	case p.broken.Load():
		p.drop(e, "connection closed")
		return
	case p.blocked.Load():
		p.drop(e, "broker flow control")
		return
	}

	msg, err := newPublishing(e)
	if err != nil {
		p.drop(e, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	if err := p.send(ctx, msg); err != nil {
		p.drop(e, err.Error())
	}
}

func (p *Publisher) drop(e event.Event, reason string) {
	p.dropped.Add(1)
	slog.Warn("session event not forwarded", "type", e.Type, "event_id", e.ID, "reason", reason)
}

// Close stops accepting events, waits a bounded time for the buffer to
// drain, then closes the broker channel and connection.
func (p *Publisher) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.closeMu.Unlock()

	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		slog.Warn("event forwarder did not drain before shutdown", "pending", len(p.events))
	}

	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
