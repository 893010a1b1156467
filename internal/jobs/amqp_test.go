package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/rulebook-translator/internal/config"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	declared   []string
	prefetch   int
	autoAck    bool
	published  []published
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, "exchange:"+name+":"+kind)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.declared = append(c.declared, "queue:"+name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, "bind:"+name+":"+key)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.autoAck = autoAck
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

// acknowledger records how each delivery tag was settled.
type acknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Exchange:     "boardgame.exchange",
		RequestQueue: "translation.requests",
		RequestKey:   "translation.request",
		CompletedKey: "translation.completed",
	}
}

func TestAMQPSource_DeclaresTopologyWithPrefetchOne(t *testing.T) {
	ch := newFakeChannel()
	_, err := NewAMQPSource(ch, testQueueConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"exchange:boardgame.exchange:topic",
		"queue:translation.requests",
		"bind:translation.requests:translation.request",
	}, ch.declared)
	assert.Equal(t, 1, ch.prefetch)
	assert.False(t, ch.autoAck)
}

func TestAMQPSource_RejectsMalformedAndAcksAfterCompletion(t *testing.T) {
	ch := newFakeChannel()
	ack := &acknowledger{}
	src, err := NewAMQPSource(ch, testQueueConfig())
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{not json")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"game_name":"no ids"}`)}
	ch.deliveries <- amqp.Delivery{
		Acknowledger:  ack,
		DeliveryTag:   3,
		CorrelationId: "corr-1",
		Body:          []byte(`{"game_id":1,"bgg_id":224517,"game_name":"Brass: Birmingham","translate_rulebooks":true,"rulebooks":[{"rulebook_id":5,"title":"Reference Sheet","url":"https://example.com/5"}]}`),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ack.nacked)
	assert.Equal(t, []bool{false, false}, ack.requeue)
	assert.Empty(t, ack.acked)

	assert.Equal(t, int64(224517), d.Job.BGGID)
	assert.True(t, d.Job.TranslateInfo)
	assert.Equal(t, "corr-1", d.Job.CorrelationID)

	require.NoError(t, d.Ack(ctx, Result{GameID: 1, BGGID: 224517, Success: true, NameVI: "Brass: Birmingham", PreserveProperNouns: true, Recorded: true}))
	assert.Equal(t, []uint64{3}, ack.acked)

	require.Len(t, ch.published, 1)
	pub := ch.published[0]
	assert.Equal(t, "translation.completed", pub.key)
	assert.Equal(t, "corr-1", pub.msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(pub.msg.Body, &ev))
	assert.Equal(t, true, ev["success"])
	assert.Equal(t, "Brass: Birmingham", ev["name_vi"])
	assert.Equal(t, true, ev["preserve_proper_nouns"])
	assert.Nil(t, ev["description_vi"])
}

func TestAMQPSource_RejectDoesNotRequeue(t *testing.T) {
	ch := newFakeChannel()
	ack := &acknowledger{}
	src, err := NewAMQPSource(ch, testQueueConfig())
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"game_id":9}`)}

	d, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Reject(context.Background(), assert.AnError))
	assert.Equal(t, []uint64{7}, ack.nacked)
	assert.Equal(t, []bool{false}, ack.requeue)
	assert.Empty(t, ch.published)
}

func TestAMQPSource_NextHonoursContextAndClosedChannel(t *testing.T) {
	ch := newFakeChannel()
	src, err := NewAMQPSource(ch, testQueueConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(ch.deliveries)
	_, err = src.Next(context.Background())
	assert.Error(t, err)

	require.NoError(t, src.Close())
	assert.True(t, ch.closed)
}

func TestPublisher_PublishRequest(t *testing.T) {
	ch := newFakeChannel()
	p := NewPublisher(ch, testQueueConfig())

	id, err := p.PublishRequest(context.Background(), TranslationJob{GameID: 1, BGGID: 224517, TranslateInfo: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "boardgame.exchange", ch.published[0].exchange)
	assert.Equal(t, "translation.request", ch.published[0].key)
	assert.Equal(t, id, ch.published[0].msg.CorrelationId)

	_, err = p.PublishRequest(context.Background(), TranslationJob{})
	assert.Error(t, err)
}

func TestDecodeJob(t *testing.T) {
	job, err := DecodeJob([]byte(`{"game_id":3}`))
	require.NoError(t, err)
	assert.True(t, job.TranslateInfo)
	assert.False(t, job.TranslateRulebooks)

	job, err = DecodeJob([]byte(`{"game_id":3,"translate_info":false}`))
	require.NoError(t, err)
	assert.False(t, job.TranslateInfo)

	_, err = DecodeJob([]byte(`{"game_id":3,"rulebooks":[{"title":"x"}]}`))
	assert.Error(t, err)
}

func TestNewCompletionEvent_Failure(t *testing.T) {
	ev := NewCompletionEvent(Result{
		GameID: 4,
		Err:    assert.AnError,
		Rulebooks: []RulebookResult{
			{RulebookID: 5, Success: true, MarkdownPath: "/out/5.md"},
			{RulebookID: 6, Err: assert.AnError},
		},
	})
	assert.False(t, ev.Success)
	require.NotNil(t, ev.ErrorMessage)
	assert.Equal(t, "UnknownError", ev.ErrorKind)
	require.Len(t, ev.Rulebooks, 2)
	assert.Equal(t, "/out/5.md", *ev.Rulebooks[0].MarkdownPath)
	assert.Nil(t, ev.Rulebooks[1].MarkdownPath)
	assert.NotNil(t, ev.Rulebooks[1].ErrorMessage)
}
