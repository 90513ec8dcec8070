package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"slotly-backend/internal/booking"
	"slotly-backend/internal/model"
	"slotly-backend/internal/store"
)

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
	GetLot(ctx context.Context, id int64) (*model.Lot, error)
	SubscriptionsForLot(ctx context.Context, lotID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool sends "spot available" notifications to the watchers of a lot.
type WorkerPool struct {
	size    int
	jobs    chan int64
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case lotID := <-wp.jobs:
			wp.sendNotificationsForLot(ctx, lotID)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a notification round for a lot. It never blocks: when
// the queue is full the job is dropped and false is returned.
func (wp *WorkerPool) Dispatch(lotID int64) bool {
	select {
	case wp.jobs <- lotID:
		return true
	default:
		log.Printf("notification queue full; dropping job for lot %d", lotID)
		return false
	}
}

// Publish implements booking.Publisher: a spot becoming available
// notifies the lot's watchers.
func (wp *WorkerPool) Publish(e booking.Event) {
	switch e.Type {
	case booking.EventReleased, booking.EventExpired:
		wp.Dispatch(e.LotID)
	}
}

func (wp *WorkerPool) sendNotificationsForLot(ctx context.Context, lotID int64) {
	subscriptions, err := wp.store.SubscriptionsForLot(ctx, lotID)
	if err != nil {
		log.Printf("Error fetching subscriptions for lot %d: %v", lotID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := fmt.Sprintf("lot %d", lotID)
	if lot, err := wp.store.GetLot(ctx, lotID); err != nil {
		log.Printf("Error fetching lot %d: %v", lotID, err)
	} else if lot.Name != "" {
		label = lot.Name
	}

	log.Printf("Sending %d notifications for lot %d", len(subscriptions), lotID)
	message := []byte(fmt.Sprintf("A spot is available at %s", label))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, message)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusGone, http.StatusNotFound:
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
