package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher announces finished runs on a watermill topic. It satisfies
// mirror.Notifier.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ mirror.Notifier = (*Publisher)(nil)

// NewPublisher connects to NATS when a URL is configured and otherwise falls
// back to an in-process channel, which is enough for a single instance.
func NewPublisher(cfg config.NotifyConfig) (*Publisher, error) {
	adapter := NewZapLoggerAdapter(common.GetLoggerWith(common.LoggerNameNotify))

	if cfg.NatsURL == "" {
		pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, adapter)
		return New(pubsub, cfg.Topic), nil
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				adapter.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			adapter.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NatsURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return New(pub, cfg.Topic), nil
}

func New(publisher message.Publisher, topic string) *Publisher {
	return &Publisher{
		publisher: publisher,
		topic:     topic,
		logger:    common.GetLoggerWith(common.LoggerNameNotify, zap.String("topic", topic)),
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

func (p *Publisher) PublishRun(ctx context.Context, result mirror.RunResult) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}

	msgID := result.RunID
	if msgID == "" {
		msgID = watermill.NewUUID()
	}
	msg := message.NewMessage(msgID, data)
	msg.Metadata.Set("tenant_id", result.TenantID)
	msg.Metadata.Set("mode", string(result.Mode))
	msg.Metadata.Set("state", result.Terminal())
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		metrics.RunNotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish run %s: %w", msgID, err)
	}
	metrics.RunNotificationsTotal.WithLabelValues("published").Inc()

	p.logger.Debug("Run result published",
		zap.String(common.LoggerFieldRunID, result.RunID),
		zap.String(common.LoggerFieldTenant, result.TenantID))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// DecodeRun reads a run result back from a published message.
func DecodeRun(msg *message.Message) (mirror.RunResult, error) {
	var result mirror.RunResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("decode run result %s: %w", msg.UUID, err)
	}
	return result, nil
}
