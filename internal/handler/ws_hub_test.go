package handler

import (
	"context"
	"testing"
)

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(newTestSync(t))
	c := newWSConn(nil, "user-1")

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}

	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	if c.push([]byte("late")) {
		t.Error("push after unregister should be refused")
	}

	// A second unregister must not close send twice.
	hub.Unregister(c)
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	s := newTestSync(t)
	hub := NewHub(s)
	c := newWSConn(nil, "user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Subscribe(c, "match-1")
	hub.Subscribe(c, "match-1")
	if n := hub.MatchSubscriberCount("match-1"); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	if n := s.Registry().ListenerCount("match-1"); n != 1 {
		t.Errorf("duplicate subscribe should not add a listener, got %d", n)
	}

	hub.Unsubscribe(c, "match-1")
	if n := hub.MatchSubscriberCount("match-1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	if n := s.Registry().PollerCount(); n != 0 {
		t.Errorf("expected poller stopped, got %d", n)
	}
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	s := newTestSync(t)
	hub := NewHub(s)
	c1 := newWSConn(nil, "user-1")
	c2 := newWSConn(nil, "user-2")
	c3 := newWSConn(nil, "user-3") // not subscribed

	for _, c := range []*WSConn{c1, c2, c3} {
		hub.Register(c)
		defer hub.Unregister(c)
	}
	hub.Subscribe(c1, "match-1")
	hub.Subscribe(c2, "match-1")

	u := s.Broadcast(context.Background(), "match-1", liveSnapshot(2))

	for _, c := range []*WSConn{c1, c2} {
		ev := nextEvent(t, c)
		if ev.Type != EventMatchUpdate || ev.MatchID != "match-1" {
			t.Errorf("%s: unexpected event %+v", c.userID, ev)
		}
		if ev.Data.Team1Score != 2 || ev.Data.Timestamp != u.Timestamp {
			t.Errorf("%s: unexpected payload %+v", c.userID, ev.Data)
		}
		expectNoEvent(t, c)
	}
	expectNoEvent(t, c3)
}

func TestHubSubscribeSendsCurrentState(t *testing.T) {
	s := newTestSync(t)
	hub := NewHub(s)
	s.Broadcast(context.Background(), "match-1", liveSnapshot(4))

	c := newWSConn(nil, "user-1")
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "match-1")

	ev := nextEvent(t, c)
	if ev.Data.Team1Score != 4 {
		t.Errorf("expected stored state, got %+v", ev.Data)
	}
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	s := newTestSync(t)
	hub := NewHub(s)
	c := newWSConn(nil, "user-1")
	hub.Register(c)
	hub.Subscribe(c, "match-1")
	hub.Subscribe(c, "match-2")

	hub.Unregister(c)

	if n := s.Registry().PollerCount(); n != 0 {
		t.Errorf("expected all pollers stopped, got %d", n)
	}
	// Updates after disconnect are dropped without panicking on the closed channel.
	s.Broadcast(context.Background(), "match-1", liveSnapshot(1))
}

func TestWSConnDropsWhenFull(t *testing.T) {
	c := &WSConn{userID: "slow", send: make(chan []byte, 1)}
	if !c.push([]byte("a")) {
		t.Fatal("first push should be queued")
	}
	if c.push([]byte("b")) {
		t.Fatal("push into a full buffer should be dropped")
	}
}
