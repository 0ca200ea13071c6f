package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/printapp/internal/core"
)

var errShutdown = errors.New("webhook: shutdown requested")

type WebhookPayload struct {
	Event     string     `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
	Data      core.Event `json:"data"`
	Signature string     `json:"signature,omitempty"`
}

// Target is one webhook endpoint. An empty Events list subscribes to all
// events.
type Target struct {
	ID     int64
	URL    string
	Secret string
	Events []string
}

func (t Target) wants(event core.EventType) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}

// Store lists webhook targets registered at runtime.
type Store interface {
	ListEnabledWebhooks(ctx context.Context) ([]Target, error)
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
	// Static targets come from the configuration file.
	Static []Target
}

type webhookTask struct {
	target  Target
	payload *WebhookPayload
	attempt int
}

// WebhookSender is a core.Notifier that POSTs events to webhook targets from
// a pool of background workers.
type WebhookSender struct {
	store       Store
	static      []Target
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan core.Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	log         *slog.Logger
}

func NewWebhookSender(store Store, config WebhookConfig, log *slog.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if log == nil {
		log = slog.Default()
	}

	return &WebhookSender{
		store:  store,
		static: config.Static,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan core.Event, config.QueueSize),
		stopCh:      make(chan struct{}),
		log:         log.With("component", "webhook"),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Notify queues ev for delivery. It never blocks; when the queue is full the
// event is dropped. Targets are resolved by the workers.
func (s *WebhookSender) Notify(ev core.Event) {
	select {
	case s.queue <- ev:
	default:
		s.log.Warn("queue full, dropping webhook event", "event", ev.Type, "job_id", ev.JobID)
	}
}

func (s *WebhookSender) targets() ([]Target, error) {
	targets := append([]Target(nil), s.static...)
	if s.store == nil {
		return targets, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stored, err := s.store.ListEnabledWebhooks(ctx)
	if err != nil {
		return targets, fmt.Errorf("query webhooks: %w", err)
	}
	return append(targets, stored...), nil
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.queue:
			s.deliver(id, ev)
		}
	}
}

// deliver sends ev to every target subscribed to its type, one after another.
func (s *WebhookSender) deliver(worker int, ev core.Event) {
	targets, err := s.targets()
	if err != nil {
		s.log.Error("failed to list webhooks", "event", ev.Type, "error", err)
		if len(targets) == 0 {
			return
		}
	}

	for _, target := range targets {
		if !target.wants(ev.Type) {
			continue
		}
		task := &webhookTask{
			target: target,
			payload: &WebhookPayload{
				Event:     string(ev.Type),
				Timestamp: ev.Timestamp,
				Data:      ev,
			},
		}
		if err := s.sendWithRetry(task); err != nil {
			s.log.Error("failed to send webhook",
				"worker", worker, "url", target.URL, "event", task.payload.Event,
				"attempts", task.attempt, "error", err)
			if errors.Is(err, errShutdown) {
				return
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.target, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			s.log.Warn("client error, not retrying", "url", task.target.URL, "error", err)
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.log.Debug("retrying webhook", "attempt", task.attempt, "max", s.retryCount, "backoff", backoff, "error", err)

			select {
			case <-s.stopCh:
				return errShutdown
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func (s *WebhookSender) sendRequest(target Target, payload *WebhookPayload) error {
	payloadBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if target.Secret != "" {
		payload.Signature = SignPayload(payloadBytes, target.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload, as sent in the
// X-Webhook-Signature header.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
