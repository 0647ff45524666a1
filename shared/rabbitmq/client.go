package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errNotConnected = errors.New("not connected to RabbitMQ")

// defaultDialTimeout matches amqp091's own default when ConnectionTimeout is unset
const defaultDialTimeout = 30 * time.Second

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	PublisherConfirms  bool
}

// Client is a publisher for the job queue. It is safe for concurrent use;
// publishes are serialised on a single channel.
type Client struct {
	config *Config
	logger *slog.Logger

	// sem guards conn, channel and closed; acquire it with lock
	sem     chan struct{}
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func newClient(config *Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

// NewClient creates a new RabbitMQ client and declares the exchange, queue and binding
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := newClient(config, logger)

	if err := client.lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	defer client.unlock()

	if err := client.connect(ctx, config.RetryAttempts); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// lock acquires exclusive use of the connection, giving up when ctx is done
func (c *Client) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) unlock() {
	<-c.sem
}

func (c *Client) dsn() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		trimVHost(c.config.VHost),
	)
}

// trimVHost drops a single leading slash so "/" selects the default vhost
func trimVHost(vhost string) string {
	if len(vhost) > 0 && vhost[0] == '/' {
		return vhost[1:]
	}
	return vhost
}

// dialTimeout bounds both the TCP dial and the AMQP handshake by ConnectionTimeout
// and by the deadline of ctx, whichever comes first
func (c *Client) dialTimeout(ctx context.Context) time.Duration {
	timeout := c.config.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// connect establishes connection to RabbitMQ with retry logic. Caller holds the lock.
func (c *Client) connect(ctx context.Context, attempts int) error {
	var err error

	if attempts <= 0 {
		attempts = 1
	}

dial:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			break dial
		}

		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.dsn(), amqp.Config{
			Heartbeat: c.config.Heartbeat,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(c.dialTimeout(ctx)),
		})
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break dial
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			timer := time.NewTimer(c.config.RetryInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				err = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
				break dial
			case <-timer.C:
			}
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.openChannel()
	if err != nil {
		c.conn.Close()
		return err
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// openChannel opens a channel, in confirm mode when publisher confirms are enabled
func (c *Client) openChannel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if c.config.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	return ch, nil
}

// setup declares exchange, queue, and bindings
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// ensureChannel re-opens the connection or channel after the broker closed it. Caller holds the lock.
func (c *Client) ensureChannel(ctx context.Context) error {
	if c.closed {
		return errNotConnected
	}
	if c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("RabbitMQ connection closed, reconnecting")
		// a single dial attempt: the caller's publish retries and deadline govern the rest
		return c.connect(ctx, 1)
	}
	if c.channel == nil || c.channel.IsClosed() {
		c.logger.Warn("RabbitMQ channel closed, reopening")
		ch, err := c.openChannel()
		if err != nil {
			return err
		}
		c.channel = ch
	}
	return nil
}

// Publish publishes a persistent message to the job exchange. When PublishRetries
// is positive, failed attempts are retried with exponential backoff until the
// retries are exhausted or ctx is done.
func (c *Client) Publish(ctx context.Context, messageID string, body []byte, contentType string) error {
	if err := c.lock(ctx); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	defer c.unlock()

	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult < 1 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
retry:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.publishOnce(ctx, messageID, body, contentType)
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("message_id", messageID),
				)
			} else {
				c.logger.Debug("Message published to RabbitMQ",
					slog.String("message_id", messageID),
					slog.Int("body_size", len(body)),
					slog.String("content_type", contentType),
				)
			}
			return nil
		}

		if attempt == maxRetries || ctx.Err() != nil {
			break retry
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			break retry
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * backoffMult)
	}

	c.logger.Error("Failed to publish message to RabbitMQ",
		slog.String("message_id", messageID),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message: %w", lastErr)
}

func (c *Client) publishOnce(ctx context.Context, messageID string, body []byte, contentType string) error {
	if err := c.ensureChannel(ctx); err != nil {
		return err
	}

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return err
	}

	// confirm is nil unless the channel is in confirm mode
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publisher confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("message %s was nacked by the broker", messageID)
	}
	return nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	_ = c.lock(context.Background())
	defer c.unlock()

	c.logger.Info("Closing RabbitMQ connection")
	c.closed = true

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.conn = nil
	c.channel = nil

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// HealthCheck reports whether the connection to the broker is open
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return fmt.Errorf("rabbitmq health check failed: %w", err)
	}
	defer c.unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq health check failed: %w", errNotConnected)
	}
	return nil
}
