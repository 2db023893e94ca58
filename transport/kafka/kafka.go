// Package kafka implements transport.Bus on top of Kafka. ROS style topic names are mapped onto
// Kafka topic names with TopicName.
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/MShields1986/reuleaux/transport"
)

// MessageIDHeader is the header carrying the id assigned to every published message.
const MessageIDHeader = "message-id"

const (
	defaultMaxWait    = time.Second
	readRetryInterval = 500 * time.Millisecond
)

// Config configures a Bus.
type Config struct {
	Brokers []string
	// GroupID is the consumer group of subscriptions to topics that are not latched. Empty means
	// each such subscription reads new messages of its topic's partition 0 without committing
	// offsets.
	GroupID string
	// Latched lists topics whose messages are published once and must reach every subscriber.
	// They are always read from the first offset, outside any consumer group.
	Latched []string
	// MaxWait bounds how long a fetch waits for new data. Defaults to one second.
	MaxWait time.Duration
}

// Validate checks the config.
func (cfg *Config) Validate() error {
	if len(cfg.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}
	for _, b := range cfg.Brokers {
		if strings.TrimSpace(b) == "" {
			return errors.Errorf("empty kafka broker address in %v", cfg.Brokers)
		}
	}
	if cfg.MaxWait < 0 {
		return errors.Errorf("max wait must not be negative, got %v", cfg.MaxWait)
	}
	return nil
}

// TopicName maps a ROS topic onto a legal Kafka topic: the leading slash is dropped and the
// remaining slashes become dots.
func TopicName(topic string) string {
	return strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", ".")
}

// Bus is a Kafka backed transport.Bus. Writers are created per topic on first publish.
type Bus struct {
	cfg    Config
	logger golog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a bus talking to the configured brokers. No connection is made until the first
// publish or subscription.
func New(cfg Config, logger golog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = defaultMaxWait
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:       cfg,
		logger:    logger,
		writers:   map[string]*kafka.Writer{},
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}, nil
}

func (b *Bus) writer(topic string) (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	name := TopicName(topic)
	w, ok := b.writers[name]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(b.cfg.Brokers...),
			Topic:                  name,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
		b.writers[name] = w
	}
	return w, nil
}

// Publish writes payload to topic and waits for the brokers to acknowledge it.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	w, err := b.writer(topic)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, newMessage(payload)); err != nil {
		return errors.Wrapf(err, "error publishing to %s", w.Topic)
	}
	return nil
}

// Subscribe starts a reader on topic that calls handler for every message, in partition order,
// from a background goroutine.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}

	name := TopicName(topic)
	readerCfg := b.readerConfig(name)
	reader := kafka.NewReader(readerCfg)
	if readerCfg.GroupID == "" {
		if err := reader.SetOffset(readerCfg.StartOffset); err != nil {
			return nil, multierr.Combine(
				errors.Wrapf(err, "error setting start offset of %s", name),
				reader.Close(),
			)
		}
	}
	subCtx, cancel := context.WithCancel(b.cancelCtx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	b.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer b.activeBackgroundWorkers.Done()
		defer close(sub.done)
		defer func() {
			if err := reader.Close(); err != nil {
				b.logger.Debugw("error closing kafka reader", "topic", name, "error", err)
			}
		}()
		b.logger.Debugw("subscribed", "topic", name, "group", readerCfg.GroupID)
		b.readLoop(subCtx, name, reader, handler)
	})
	return sub, nil
}

func newMessage(payload []byte) kafka.Message {
	return kafka.Message{
		Value:   payload,
		Headers: []kafka.Header{{Key: MessageIDHeader, Value: []byte(uuid.NewString())}},
	}
}

// messageID returns the id header of m, or an empty string for messages from other producers.
func messageID(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == MessageIDHeader {
			return string(h.Value)
		}
	}
	return ""
}

func (b *Bus) latched(name string) bool {
	for _, topic := range b.cfg.Latched {
		if TopicName(topic) == name {
			return true
		}
	}
	return false
}

// readerConfig returns the reader settings for the Kafka topic name. Latched topics are read from
// the start without a group so that a restarted process sees their message again; other topics
// start at new messages.
func (b *Bus) readerConfig(name string) kafka.ReaderConfig {
	cfg := kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       name,
		GroupID:     b.cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     b.cfg.MaxWait,
	}
	if b.latched(name) {
		cfg.GroupID = ""
		cfg.StartOffset = kafka.FirstOffset
	}
	return cfg
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func (b *Bus) readLoop(ctx context.Context, topic string, reader messageReader, handler transport.Handler) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Debugw("subscription stopped", "topic", topic)
				return
			}
			b.logger.Warnw("error reading from kafka", "topic", topic, "error", err)
			if !utils.SelectContextOrWait(ctx, readRetryInterval) {
				return
			}
			continue
		}
		b.logger.Debugw("message received", "topic", topic, "id", messageID(m), "offset", m.Offset)
		handler(m.Value)
	}
}

// Close stops every subscription and closes the writers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	writers := b.writers
	b.writers = map[string]*kafka.Writer{}
	b.mu.Unlock()

	b.cancel()
	b.activeBackgroundWorkers.Wait()

	var err error
	for topic, w := range writers {
		err = multierr.Combine(err, errors.Wrapf(w.Close(), "error closing writer for %s", topic))
	}
	return err
}

type subscription struct {
	cancel func()
	done   chan struct{}
}

func (s *subscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}
