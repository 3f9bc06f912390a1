package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(TopicSessionsChanged, 4)
	defer cancel()

	bus.Publish(TopicSessionsChanged, "payload-1")

	select {
	case ev := <-ch:
		if ev.Topic != TopicSessionsChanged {
			t.Errorf("unexpected topic: %s", ev.Topic)
		}
		if ev.Payload != "payload-1" {
			t.Errorf("unexpected payload: %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(TopicWorkspaceChanged, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicWorkspaceChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(TopicSsoStatus, 1)
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	bus.Publish(TopicSsoStatus, SsoStatusPayload{Active: true})
}

func TestTopicsAreIndependent(t *testing.T) {
	bus := NewBus()
	chA, cancelA := bus.Subscribe(TopicLoginError, 1)
	defer cancelA()

	bus.Publish(TopicSessionsChanged, "other topic")

	select {
	case ev := <-chA:
		t.Errorf("received event from the wrong topic: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
