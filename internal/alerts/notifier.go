package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"backoffice.dev/internal/obs"
)

const (
	defaultNotifyTimeout = 5 * time.Second
	defaultQueueSize     = 256
)

// Notification is the JSON body pushed to the webhook.
type Notification struct {
	Message          string           `json:"message"`
	UserEmail        string           `json:"userEmail"`
	ModificationType ModificationType `json:"modificationType"`
	UserRole         string           `json:"userRole"`
}

// NotificationFor builds the webhook payload for a stored alert.
func NotificationFor(a Alert) Notification {
	return Notification{
		Message:          a.Message,
		UserEmail:        a.UserEmail,
		ModificationType: a.ModificationType,
		UserRole:         a.UserRole,
	}
}

// NotifierConfig configures webhook delivery.
type NotifierConfig struct {
	Endpoint  string
	Timeout   time.Duration
	QueueSize int
	Workers   int
	Client    *http.Client
}

// Notifier delivers notifications from a bounded queue on background workers.
// Delivery is attempted once; failures and overflow are logged and counted.
type Notifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	ch        chan Notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewNotifier starts the delivery workers. It returns nil when no endpoint is
// configured; a nil Notifier accepts and discards notifications.
func NewNotifier(cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotifyTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 || client.Timeout > cfg.Timeout {
		copied := *client
		copied.Timeout = cfg.Timeout
		client = &copied
	}
	if logger == nil {
		logger = obs.Logger()
	}

	n := &Notifier{
		endpoint: cfg.Endpoint,
		client:   client,
		logger:   logger,
		ch:       make(chan Notification, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for range cfg.Workers {
		n.wg.Add(1)
		go n.run()
	}
	return n
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.ch:
			n.deliver(msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.ch:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

// Enqueue schedules msg for delivery without blocking. It reports false when
// the notifier is closed or the queue is full.
func (n *Notifier) Enqueue(msg Notification) bool {
	if n == nil || n.closed.Load() {
		return false
	}
	select {
	case n.ch <- msg:
		return true
	case <-n.done:
		return false
	default:
		n.dropped.Add(1)
		obs.AlertNotifications.WithLabelValues("dropped").Inc()
		n.logger.Warn("alert notification dropped: queue full",
			slog.String("user_email", msg.UserEmail),
			slog.String("modification_type", string(msg.ModificationType)),
		)
		return false
	}
}

// Dropped reports how many notifications were discarded because the queue was full.
func (n *Notifier) Dropped() uint64 {
	if n == nil {
		return 0
	}
	return n.dropped.Load()
}

// Close stops accepting notifications and waits for queued ones to be sent
// or for ctx to end.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		close(n.done)
	})
	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) deliver(msg Notification) {
	if err := n.post(msg); err != nil {
		obs.AlertNotifications.WithLabelValues("failed").Inc()
		n.logger.Warn("alert notification failed",
			slog.String("endpoint", n.endpoint),
			slog.String("user_email", msg.UserEmail),
			slog.String("error", err.Error()),
		)
		return
	}
	obs.AlertNotifications.WithLabelValues("delivered").Inc()
}

func (n *Notifier) post(msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
