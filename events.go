// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"time"

	"github.com/google/uuid"
)

type WidgetEventType int

const (
	// Lifecycle
	EVENT_CODE_SEEDED WidgetEventType = iota
	EVENT_CODE_PUSH
	EVENT_CODE_CHANGE

	// Run lifecycle
	EVENT_RUN_START
	EVENT_RUN_REQUEST
	EVENT_RUN_RESULT
	EVENT_RUN_FAILURE

	// Authentication events
	EVENT_AUTH_START
	EVENT_AUTH_CACHED
	EVENT_AUTH_LOGIN_START
	EVENT_AUTH_LOGIN_END
	EVENT_AUTH_TOKEN_EXTRACT
	EVENT_AUTH_TOKEN_INJECT
	EVENT_AUTH_END
)

// WidgetEvent is one entry of the widget state stream. Every state
// transition, including the ones that complete after a suspension point,
// publishes an event so the host never has to poll for changes.
type WidgetEvent struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId,omitempty"`
	Type      WidgetEventType `json:"type"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  int64           `json:"durationMs,omitempty"` // Only in END events

	Data map[string]any `json:"data"`
}

// eventSink fans widget events out to an optional channel.
// All emit helpers are no-ops until a channel is attached.
type eventSink struct {
	ch chan WidgetEvent
}

func (s *eventSink) Enabled() bool {
	return s != nil && s.ch != nil
}

func (s *eventSink) Channel() chan WidgetEvent {
	return s.ch
}

func (s *eventSink) emit(eventType WidgetEventType, name, parentID string, data map[string]any) string {
	if !s.Enabled() {
		return ""
	}

	event := WidgetEvent{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	}
	if event.Data == nil {
		event.Data = make(map[string]any)
	}

	s.ch <- event
	return event.ID
}

func (s *eventSink) emitEnd(eventType WidgetEventType, name, id, parentID string, start time.Time) {
	if !s.Enabled() {
		return
	}

	s.ch <- WidgetEvent{
		ID:        id,
		ParentID:  parentID,
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now(),
		Duration:  time.Since(start).Milliseconds(),
		Data:      map[string]any{},
	}
}
