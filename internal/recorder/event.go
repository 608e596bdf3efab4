// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package recorder is the asynchronous interaction pipeline: user
// feedback is published to an in-process message bus and applied to the
// taste profile, blocklist, and exploration state by a routed handler
// with retry and a poison queue. Recommendation requests never wait on
// learning writes.
package recorder

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

// TopicInteractions is the bus topic carrying interaction events.
const TopicInteractions = "interaction.recorded"

// Interaction is one piece of user feedback on a presented outfit.
type Interaction struct {
	// EventID uniquely identifies the event for tracing and audit.
	EventID string `json:"event_id" validate:"required,uuid4"`

	UserID   string `json:"user_id" validate:"required,max=128"`
	OutfitID string `json:"outfit_id,omitempty" validate:"max=128"`

	// Action is the feedback mode (like, wear, select, ignore, dislike,
	// shopping_click).
	Action profile.Action `json:"action" validate:"required"`

	// Slot is the recommendation position the outfit occupied, 1-3.
	// Zero means the interaction did not come from a slotted
	// recommendation (e.g. wearing a saved outfit).
	Slot int `json:"slot" validate:"min=0,max=3"`

	// Tags are the outfit's canonical tags at presentation time.
	Tags tags.OutfitTags `json:"tags"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewInteraction builds a validated event for one piece of feedback.
func NewInteraction(userID string, action profile.Action, slot int, t tags.OutfitTags) Interaction {
	return Interaction{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Slot:       slot,
		Tags:       t,
		OccurredAt: time.Now().UTC(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the event before it enters the pipeline. Invalid
// events are rejected at publish time, never retried.
func (i Interaction) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("invalid interaction: %w", err)
	}
	if err := storage.ValidateUserID(i.UserID); err != nil {
		return err
	}
	if !i.Action.Valid() {
		return fmt.Errorf("invalid interaction: unknown action %q", i.Action)
	}
	return nil
}
