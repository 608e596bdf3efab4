// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package recorder

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/explore"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/profile"
)

// HistorySink receives every successfully applied interaction for
// offline analysis. Sink failures never fail the interaction.
type HistorySink interface {
	Append(ctx context.Context, event Interaction) error
}

// Recorder is the asynchronous interaction pipeline. RecordInteraction
// publishes feedback onto an in-process bus; a routed handler applies
// it to the learning stores with panic recovery, exponential retry,
// and a poison queue for messages that exhaust their retries.
type Recorder struct {
	pubsub     *gochannel.GoChannel
	router     *message.Router
	profiles   *profile.Store
	blocklists *blocklist.Manager
	explorer   *explore.Controller
	history    HistorySink
	cfg        config.RecorderConfig
	logger     zerolog.Logger
}

// New wires the pipeline. history may be nil when the analysis sink is
// disabled.
func New(
	cfg config.RecorderConfig,
	profiles *profile.Store,
	blocklists *blocklist.Manager,
	explorer *explore.Controller,
	history HistorySink,
) (*Recorder, error) {
	logger := logging.With().Str("component", "recorder").Logger()
	wmLogger := NewWatermillLogger(logger)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.BufferSize),
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create interaction router: %w", err)
	}

	r := &Recorder{
		pubsub:     pubsub,
		router:     router,
		profiles:   profiles,
		blocklists: blocklists,
		explorer:   explorer,
		history:    history,
		cfg:        cfg,
		logger:     logger,
	}

	// Middleware order, outer to inner: queue depth accounting once per
	// delivery, panic recovery, the poison queue, exponential retry,
	// and an inner poison filter. The first-added middleware wraps
	// outermost, so the outer poison queue only sees errors after the
	// retries inside it are exhausted, while the inner filter diverts
	// permanent failures before any retry is spent on them.
	router.AddMiddleware(queueDepthMiddleware)
	router.AddMiddleware(middleware.Recoverer)

	poison, err := middleware.PoisonQueue(pubsub, cfg.PoisonQueueTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue: %w", err)
	}
	router.AddMiddleware(poison)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryCount,
		InitialInterval: cfg.RetryInitialInterval,
		Multiplier:      2.0,
		Logger:          wmLogger,
	}
	router.AddMiddleware(retry.Middleware)

	permanent, err := middleware.PoisonQueueWithFilter(pubsub, cfg.PoisonQueueTopic, IsPermanentError)
	if err != nil {
		return nil, fmt.Errorf("create permanent-failure filter: %w", err)
	}
	router.AddMiddleware(permanent)

	router.AddConsumerHandler("apply_interaction", TopicInteractions, pubsub, r.handle)
	router.AddConsumerHandler("poison_audit", cfg.PoisonQueueTopic, pubsub, r.handlePoison)

	return r, nil
}

// queueDepthMiddleware decrements the queue depth gauge exactly once
// per delivery, regardless of retries inside. Poisoned copies were
// never counted at publish, so their audit delivery does not
// decrement.
func queueDepthMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(middleware.ReasonForPoisonedKey) == "" {
			defer metrics.RecorderQueueDepth.Dec()
		}
		return h(msg)
	}
}

// RecordInteraction validates an event and publishes it onto the bus.
// It returns once the event is buffered; applying it happens
// asynchronously.
func (r *Recorder) RecordInteraction(ctx context.Context, event Interaction) error {
	if err := event.Validate(); err != nil {
		metrics.InteractionsRecordedTotal.WithLabelValues("dropped").Inc()
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		metrics.InteractionsRecordedTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("marshal interaction %s: %w", event.EventID, err)
	}

	// The caller's context often ends with its request; handlers must
	// still be able to finish applying the event.
	msg := message.NewMessage(event.EventID, payload)
	msg.SetContext(context.WithoutCancel(ctx))
	if err := r.pubsub.Publish(TopicInteractions, msg); err != nil {
		metrics.InteractionsRecordedTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("publish interaction %s: %w", event.EventID, err)
	}

	metrics.RecorderQueueDepth.Inc()
	return nil
}

// handle applies one interaction to the learning stores.
//
// Error handling:
//   - Parse and validation failures return PermanentError; they skip
//     the retries and go straight to the poison queue.
//   - Store failures return plain errors and retry with backoff.
//   - History sink failures only log; analysis is best effort.
func (r *Recorder) handle(msg *message.Message) error {
	var event Interaction
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return NewPermanentError("parse interaction payload", err)
	}
	if err := event.Validate(); err != nil {
		return NewPermanentError("validate interaction", err)
	}

	ctx := msg.Context()
	logger := r.logger.With().
		Str("event_id", event.EventID).
		Str("user_id", event.UserID).
		Str("action", string(event.Action)).
		Logger()

	if err := r.profiles.ApplyDelta(ctx, event.UserID, event.Tags, event.Action); err != nil {
		return fmt.Errorf("apply profile delta: %w", err)
	}

	if event.Action == profile.ActionDislike {
		if err := r.blocklists.RecordDislike(ctx, event.UserID, event.Tags); err != nil {
			return fmt.Errorf("record dislike: %w", err)
		}
	}

	if event.Slot == 3 {
		if err := r.explorer.RecordSlot3Feedback(ctx, event.UserID, event.Action); err != nil {
			return fmt.Errorf("record slot-3 feedback: %w", err)
		}
	}

	if r.history != nil {
		if err := r.history.Append(ctx, event); err != nil {
			logger.Warn().Err(err).Msg("history sink append failed")
		}
	}

	metrics.InteractionsRecordedTotal.WithLabelValues("success").Inc()
	logger.Debug().Int("slot", event.Slot).Msg("interaction applied")
	return nil
}

// handlePoison logs events that exhausted their retries. The payload is
// kept in the log so operators can replay it by hand.
func (r *Recorder) handlePoison(msg *message.Message) error {
	metrics.InteractionsRecordedTotal.WithLabelValues("poisoned").Inc()
	r.logger.Error().
		Str("message_uuid", msg.UUID).
		Str("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)).
		Bytes("payload", msg.Payload).
		Msg("interaction moved to poison queue")
	return nil
}

// Serve runs the pipeline until ctx is canceled. It satisfies the
// supervisor's service contract.
func (r *Recorder) Serve(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once handlers are consuming.
func (r *Recorder) Running() <-chan struct{} {
	return r.router.Running()
}

// Close drains in-flight messages up to the configured timeout.
func (r *Recorder) Close() error {
	if err := r.router.Close(); err != nil {
		return err
	}
	return r.pubsub.Close()
}

func (r *Recorder) String() string {
	return "recorder"
}
