package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/middleware"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// Subject and queue group of run requests.
const (
	SubjectRunRequested = "healthledger.runs.requested"
	QueueBuilders       = "healthledger-builders"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config pointing at the local default server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "healthledger",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS and logs disconnects and reconnects.
func Connect(cfg Config, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// MsgPublisher is the part of *nats.Conn the publisher uses.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes run requests as JSON.
type NATSPublisher struct {
	conn    MsgPublisher
	subject string
}

// NewNATSPublisher publishes on SubjectRunRequested.
func NewNATSPublisher(conn MsgPublisher) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: SubjectRunRequested}
}

func (p *NATSPublisher) Publish(ctx context.Context, req model.RunRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	msg := &nats.Msg{Subject: p.subject, Data: data}
	if id := middleware.GetRequestID(ctx); id != "" {
		msg.Header = nats.Header{}
		msg.Header.Set(middleware.HeaderRequestID, id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish run request: %w", err)
	}
	return nil
}

// NATSConsumer builds runs for requests received in the builders queue group.
type NATSConsumer struct {
	conn    *nats.Conn
	builder Builder
	logger  *logging.Logger
	timeout time.Duration

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSConsumer returns a consumer. Each build gets timeout, or a minute
// when timeout is zero.
func NewNATSConsumer(conn *nats.Conn, b Builder, logger *logging.Logger, timeout time.Duration) *NATSConsumer {
	if logger == nil {
		logger = logging.Discard()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &NATSConsumer{conn: conn, builder: b, logger: logger, timeout: timeout}
}

// Start subscribes. It is an error to start twice.
func (c *NATSConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return errors.New("consumer already started")
	}
	sub, err := c.conn.QueueSubscribe(SubjectRunRequested, QueueBuilders, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if msg.Header != nil {
			ctx = middleware.WithRequestID(ctx, msg.Header.Get(middleware.HeaderRequestID))
		}
		if err := c.handle(ctx, msg.Data); err != nil {
			c.logger.ErrorContext(ctx, "run request failed", logging.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectRunRequested, err)
	}
	c.sub = sub
	c.logger.Info("run consumer started", "subject", SubjectRunRequested, "queue", QueueBuilders)
	return nil
}

// Stop drains the subscription so in-flight builds finish.
func (c *NATSConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Drain()
	c.sub = nil
	return err
}

func (c *NATSConsumer) handle(ctx context.Context, data []byte) error {
	var req model.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode run request: %w", err)
	}
	if req.UserID == "" || !model.ValidDay(req.Day) {
		return fmt.Errorf("run request for %q/%q is incomplete", req.UserID, req.Day)
	}
	run, err := c.builder.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("build run: %w", err)
	}
	c.logger.InfoContext(ctx, "run built",
		logging.UserID(run.UserID),
		logging.Day(run.Day),
		logging.RunID(run.RunID),
	)
	return nil
}
