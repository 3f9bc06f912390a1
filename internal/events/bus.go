// Package events carries the observable state-change signals the core emits
// for the presentation layer: workspace changed, session list changed, SSO
// active/inactive, login errors. Publishers never block on slow subscribers.
package events

import (
	"sync"
	"time"
)

// Topic identifies a signal stream.
type Topic string

const (
	TopicWorkspaceChanged Topic = "workspace_changed"
	TopicSessionsChanged  Topic = "sessions_changed"
	TopicSsoStatus        Topic = "sso_status"
	TopicLoginError       Topic = "login_error"
)

// Event is one published state change.
type Event struct {
	Topic   Topic
	Payload any
	At      time.Time
}

// SsoStatusPayload reports the SSO federation state.
type SsoStatusPayload struct {
	Active bool
	// VerificationURL is set while a browser authorization is pending and
	// the workspace prefers in-app opening.
	VerificationURL string
	UserCode        string
}

// Bus is an in-process publish/subscribe channel fan-out. Subscribers that
// fall behind lose events rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a buffered channel for a topic. The returned cancel
// function removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[topic]
		for i, c := range chans {
			if c == ch {
				b.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the topic. Delivery is
// best-effort: a full subscriber buffer drops the event for that subscriber.
func (b *Bus) Publish(topic Topic, payload any) {
	ev := Event{Topic: topic, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}
