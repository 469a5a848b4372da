package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/metrics"
	"equipment-custody-backend/internal/model"
)

// Event names the custody change a notification reports.
type Event string

const (
	EventExited  Event = "exited"
	EventDelayed Event = "delayed"
)

// Job is one notification fan-out for a record.
type Job struct {
	EquipmentID string
	Code        string
	Event       Event
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	EquipmentID string `json:"equipmentId"`
	Event       Event  `json:"event"`
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the store the workers need.
type SubscriptionStore interface {
	SubscribersFor(ctx context.Context, equipmentID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool. The queue holds queueSize jobs;
// Dispatch drops jobs while it is full.
func NewWorkerPool(size, queueSize int, st SubscriptionStore, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, queueSize),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.With(zap.Int("worker", id))
	log.Debug("notification worker started")
	for {
		select {
		case job := <-wp.jobs:
			log.Debug("processing notification", zap.String("code", job.Code), zap.String("event", string(job.Event)))
			wp.sendNotificationsFor(ctx, job)
		case <-ctx.Done():
			log.Debug("notification worker shutting down")
			return
		}
	}
}

// Dispatch queues a job without blocking the caller.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		metrics.Notifications.WithLabelValues(string(job.Event), "dropped").Inc()
		wp.log.Warn("notification queue full, dropping job",
			zap.String("code", job.Code), zap.String("event", string(job.Event)))
		return false
	}
}

// NotifyExit queues the exit notification of rec.
func (wp *WorkerPool) NotifyExit(rec model.EquipmentRecord) {
	wp.Dispatch(Job{EquipmentID: rec.ID, Code: rec.Code, Event: EventExited})
}

// NotifyDelayed queues the delayed notification of rec.
func (wp *WorkerPool) NotifyDelayed(rec model.EquipmentRecord) bool {
	return wp.Dispatch(Job{EquipmentID: rec.ID, Code: rec.Code, Event: EventDelayed})
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func buildPayload(job Job) Payload {
	p := Payload{EquipmentID: job.EquipmentID, Event: job.Event}
	switch job.Event {
	case EventExited:
		p.Title = "Equipment ready"
		p.Body = fmt.Sprintf("Equipment %s has left custody", job.Code)
	case EventDelayed:
		p.Title = "Equipment delayed"
		p.Body = fmt.Sprintf("Equipment %s has been in custody for more than %d days", job.Code, custody.DelayedAfterDays)
	default:
		p.Title = "Equipment update"
		p.Body = fmt.Sprintf("Equipment %s changed", job.Code)
	}
	return p
}

// sendNotificationsFor fetches subscriptions and sends notifications for a given job.
func (wp *WorkerPool) sendNotificationsFor(ctx context.Context, job Job) {
	subscriptions, err := wp.store.SubscribersFor(ctx, job.EquipmentID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("code", job.Code), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(buildPayload(job))
	if err != nil {
		wp.log.Error("failed to encode notification", zap.String("code", job.Code), zap.Error(err))
		return
	}

	wp.log.Info("sending notifications",
		zap.Int("subscriptions", len(subscriptions)),
		zap.String("code", job.Code),
		zap.String("event", string(job.Event)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, job.Event, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, event Event, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.Notifications.WithLabelValues(string(event), "error").Inc()
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		metrics.Notifications.WithLabelValues(string(event), "expired").Inc()
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return
	}
	metrics.Notifications.WithLabelValues(string(event), "sent").Inc()
}
