// Package worker provides the NATS worker that processes synthesis jobs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
)

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
// Jobs that fail validation are answered with a structured error response;
// jobs that fail any other way get no reply at all, so the requester's own
// timeout surfaces the failure. MaxInFlight bounds concurrent synthesis.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	jobTimeout     time.Duration
	slots          chan struct{}
	jobHandler     *handler.Handler
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A MaxInFlight below
// 1 is raised to 1; an unbuffered slot channel would block dispatch forever.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg config.NATSConfig,
	jobHandler *handler.Handler,
	log *logger.Logger,
) (*NatsWorker, error) {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        cfg.JobsSubject,
		queueGroup:     cfg.QueueGroup,
		jobTimeout:     time.Duration(cfg.JobTimeoutSeconds) * time.Second,
		slots:          make(chan struct{}, maxInFlight),
		jobHandler:     jobHandler,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages. It blocks until
// the context is canceled, then drains the subscription and waits for
// in-flight jobs to finish.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	w.waitForInFlightJobs()

	return nil
}

func (w *NatsWorker) subscribe() (*nats.Subscription, error) {
	if w.queueGroup != "" {
		return w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	}

	return w.natsConnection.Subscribe(w.subject, w.handleMessage)
}

// handleMessage acquires a synthesis slot and hands the message to a
// goroutine. Callbacks are dispatched sequentially per subscription, so the
// blocking acquisition applies backpressure to the subject while keeping up
// to MaxInFlight jobs running.
func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.slots <- struct{}{}

	go func() {
		defer func() { <-w.slots }()

		w.processMessage(msg)
	}()
}

func (w *NatsWorker) processMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	job, err := handler.DecodeJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to decode job: %v", err)

		return
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	resp, err := w.jobHandler.Handle(ctx, job)
	if err != nil {
		// No reply on this path. The requester's timeout is the signal
		// that the job died.
		w.log.Error("Job %s failed: %v", job.ID, err)

		return
	}

	err = w.respond(msg, resp)
	if err != nil {
		w.log.Error("Failed to reply for job %s: %v", job.ID, err)
	}
}

// respond marshals and sends the response on the message's reply subject.
func (w *NatsWorker) respond(msg *nats.Msg, resp handler.Response) error {
	replyData, err := handler.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}

	return nil
}

// waitForInFlightJobs blocks until every synthesis slot is free again.
func (w *NatsWorker) waitForInFlightJobs() {
	for i := 0; i < cap(w.slots); i++ {
		w.slots <- struct{}{}
	}
}
