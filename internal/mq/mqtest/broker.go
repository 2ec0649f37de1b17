// Package mqtest — in-memory брокер с семантикой RabbitMQ, достаточной
// для тестов пакета mq и его потребителей.
//
// Поддерживается: default exchange (routing key = очередь), direct exchange
// через QueueBind, server-named и auto-delete очереди, round-robin между
// consumer'ами, ack/nack/requeue, dead-letter через x-dead-letter-exchange.
package mqtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Anomalix/internal/mq"
)

const consumerBuffer = 1024

// Published — запись об опубликованном сообщении.
type Published struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

// Broker — in-memory брокер. Реализует mq.ChannelProvider и mq.ChannelOpener.
type Broker struct {
	mu sync.Mutex

	queues   map[string]*queue
	deleted  map[string]bool
	bindings map[string]map[string]string // exchange → routing key → queue

	published []Published
	unacked   map[uint64]unacked

	acked        int
	requeued     int
	deadLettered []amqp.Delivery

	failPublish map[string]error
	failOpen    error

	nextTag      uint64
	nextName     int
	nextConsumer int
	openChannels int

	shared    *Channel
	reconnect chan struct{}
}

type queue struct {
	name       string
	args       amqp.Table
	autoDelete bool
	pending    []amqp.Delivery
	consumers  []*consumer
	next       int
}

type consumer struct {
	tag     string
	ch      chan amqp.Delivery
	autoAck bool
	owner   *Channel
}

type unacked struct {
	queue    string
	delivery amqp.Delivery
}

// NewBroker создаёт пустой брокер.
func NewBroker() *Broker {
	b := &Broker{
		queues:      make(map[string]*queue),
		deleted:     make(map[string]bool),
		bindings:    make(map[string]map[string]string),
		unacked:     make(map[uint64]unacked),
		failPublish: make(map[string]error),
		reconnect:   make(chan struct{}, 1),
	}
	b.shared = &Channel{b: b}
	return b
}

var (
	_ mq.ChannelProvider = (*Broker)(nil)
	_ mq.ChannelOpener   = (*Broker)(nil)
	_ mq.Channel         = (*Channel)(nil)
	_ amqp.Acknowledger  = (*Broker)(nil)
)

// Channel возвращает общий канал (как Connection.Channel).
func (b *Broker) Channel() mq.Channel {
	return b.shared
}

// ReconnectNotify возвращает канал уведомлений о переподключении.
func (b *Broker) ReconnectNotify() <-chan struct{} {
	return b.reconnect
}

// OpenChannel открывает отдельный канал.
func (b *Broker) OpenChannel() (mq.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failOpen != nil {
		return nil, b.failOpen
	}
	b.openChannels++
	return &Channel{b: b, counted: true}, nil
}

// FailPublish заставляет публикации с данным routing key возвращать err.
func (b *Broker) FailPublish(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPublish[key] = err
}

// FailOpen заставляет OpenChannel возвращать err.
func (b *Broker) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOpen = err
}

// Publish кладёт сообщение в очередь через default exchange.
func (b *Broker) Publish(queueName string, msg amqp.Publishing) error {
	return b.shared.PublishWithContext(context.Background(), "", queueName, false, false, msg)
}

// Published возвращает сообщения, опубликованные с данным routing key.
func (b *Broker) Published(key string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []amqp.Publishing
	for _, p := range b.published {
		if p.Key == key {
			out = append(out, p.Msg)
		}
	}
	return out
}

// PublishedCount — число сообщений с данным routing key.
func (b *Broker) PublishedCount(key string) int {
	return len(b.Published(key))
}

// Acked — число подтверждённых сообщений.
func (b *Broker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Requeued — число сообщений, возвращённых в очередь.
func (b *Broker) Requeued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requeued
}

// DeadLettered — сообщения, отклонённые без requeue.
func (b *Broker) DeadLettered() []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Delivery(nil), b.deadLettered...)
}

// Unacked — число доставленных, но не подтверждённых сообщений.
func (b *Broker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unacked)
}

// ConsumerCount — число consumer'ов очереди.
func (b *Broker) ConsumerCount(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.consumers)
}

// Pending — число сообщений, ждущих consumer'а.
func (b *Broker) Pending(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.pending)
}

// QueueExists проверяет, существует ли очередь.
func (b *Broker) QueueExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// QueueArgs возвращает аргументы, с которыми объявлена очередь.
func (b *Broker) QueueArgs(name string) amqp.Table {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q.args
	}
	return nil
}

// OpenChannels — число открытых через OpenChannel и не закрытых каналов.
func (b *Broker) OpenChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openChannels
}

// --- amqp.Acknowledger ---

// Ack подтверждает доставку.
func (b *Broker) Ack(tag uint64, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.unacked[tag]; !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.unacked, tag)
	b.acked++
	return nil
}

// Nack отклоняет доставку.
func (b *Broker) Nack(tag uint64, _ bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.unacked[tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.unacked, tag)

	if requeue {
		b.requeued++
		if q, ok := b.queues[u.queue]; ok {
			d := b.redeliveryLocked(u.delivery)
			d.Redelivered = true
			b.dispatchLocked(q, d)
		}
		return nil
	}

	b.deadLettered = append(b.deadLettered, u.delivery)
	b.deadLetterLocked(u.queue, u.delivery)
	return nil
}

// Reject отклоняет доставку.
func (b *Broker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

// --- internals (вызываются под b.mu) ---

func (b *Broker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) routeLocked(exchange, key string) (*queue, bool) {
	if exchange == "" {
		if b.deleted[key] {
			return nil, false
		}
		return b.queueLocked(key), true
	}

	name, ok := b.bindings[exchange][key]
	if !ok {
		return nil, false
	}
	return b.queueLocked(name), true
}

func (b *Broker) deliveryLocked(exchange, key string, msg amqp.Publishing) amqp.Delivery {
	b.nextTag++
	return amqp.Delivery{
		Acknowledger:  b,
		DeliveryTag:   b.nextTag,
		Exchange:      exchange,
		RoutingKey:    key,
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	}
}

func (b *Broker) redeliveryLocked(d amqp.Delivery) amqp.Delivery {
	b.nextTag++
	d.DeliveryTag = b.nextTag
	return d
}

func (b *Broker) dispatchLocked(q *queue, d amqp.Delivery) {
	if len(q.consumers) == 0 {
		q.pending = append(q.pending, d)
		return
	}

	c := q.consumers[q.next%len(q.consumers)]
	q.next++

	if !c.autoAck {
		b.unacked[d.DeliveryTag] = unacked{queue: q.name, delivery: d}
	}
	c.ch <- d
}

func (b *Broker) deadLetterLocked(queueName string, d amqp.Delivery) {
	q, ok := b.queues[queueName]
	if !ok || q.args == nil {
		return
	}

	dlx, _ := q.args["x-dead-letter-exchange"].(string)
	rk, _ := q.args["x-dead-letter-routing-key"].(string)
	if dlx == "" {
		return
	}
	if rk == "" {
		rk = d.RoutingKey
	}

	target, ok := b.routeLocked(dlx, rk)
	if !ok {
		return
	}
	dead := b.redeliveryLocked(d)
	dead.Exchange = dlx
	dead.RoutingKey = rk
	dead.Redelivered = false
	b.dispatchLocked(target, dead)
}

func (b *Broker) cancelLocked(tag string) bool {
	for name, q := range b.queues {
		for i, c := range q.consumers {
			if c.tag != tag {
				continue
			}
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			close(c.ch)

			if q.autoDelete && len(q.consumers) == 0 {
				delete(b.queues, name)
				b.deleted[name] = true
			}
			return true
		}
	}
	return false
}

// Channel — канал in-memory брокера.
type Channel struct {
	b       *Broker
	closed  bool
	counted bool
	tags    []string
}

// PublishWithContext публикует сообщение.
func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	if err := b.failPublish[key]; err != nil {
		return err
	}

	b.published = append(b.published, Published{Exchange: exchange, Key: key, Msg: msg})

	q, ok := b.routeLocked(exchange, key)
	if !ok {
		// Как RabbitMQ: сообщение без маршрута молча теряется
		return nil
	}
	b.dispatchLocked(q, b.deliveryLocked(exchange, key, msg))
	return nil
}

// Consume регистрирует consumer'а.
func (c *Channel) Consume(queueName, tag string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	if b.deleted[queueName] {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "no queue '" + queueName + "'"}
	}

	if tag == "" {
		b.nextConsumer++
		tag = fmt.Sprintf("ctag-%d", b.nextConsumer)
	}

	q := b.queueLocked(queueName)
	for _, existing := range q.consumers {
		if existing.tag == tag {
			return nil, &amqp.Error{Code: amqp.NotAllowed, Reason: "attempt to reuse consumer tag"}
		}
	}

	cons := &consumer{
		tag:     tag,
		ch:      make(chan amqp.Delivery, consumerBuffer),
		autoAck: autoAck,
		owner:   c,
	}
	q.consumers = append(q.consumers, cons)
	c.tags = append(c.tags, tag)

	pending := q.pending
	q.pending = nil
	for _, d := range pending {
		b.dispatchLocked(q, d)
	}

	return cons.ch, nil
}

// Cancel снимает consumer'а и закрывает его канал доставки.
func (c *Channel) Cancel(tag string, _ bool) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	if !b.cancelLocked(tag) {
		return errors.New("unknown consumer tag " + tag)
	}
	return nil
}

// Qos — no-op.
func (c *Channel) Qos(_, _ int, _ bool) error {
	return nil
}

// QueueDeclare объявляет очередь. Пустое имя — server-named очередь.
func (c *Channel) QueueDeclare(name string, _, autoDelete, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}

	if name == "" {
		b.nextName++
		name = fmt.Sprintf("amq.gen-%d", b.nextName)
	}
	delete(b.deleted, name)

	q := b.queueLocked(name)
	q.autoDelete = autoDelete
	q.args = args

	return amqp.Queue{Name: name, Messages: len(q.pending), Consumers: len(q.consumers)}, nil
}

// ExchangeDeclare — exchange создаётся при первой привязке.
func (c *Channel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.bindings[name]; !ok {
		b.bindings[name] = make(map[string]string)
	}
	return nil
}

// QueueBind привязывает очередь к exchange.
func (c *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.bindings[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no exchange '" + exchange + "'"}
	}
	b.queueLocked(name)
	b.bindings[exchange][key] = name
	return nil
}

// Close закрывает канал и снимает его consumer'ов.
func (c *Channel) Close() error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, tag := range c.tags {
		b.cancelLocked(tag)
	}
	c.tags = nil

	if c.counted {
		b.openChannels--
	}
	return nil
}
