package sse

import (
	"testing"
)

func TestBroadcast(t *testing.T) {
	clients := NewSSEClients()
	a := NewClient("session-a")
	b := NewClient("session-b")
	clients.Add(a)
	clients.Add(b)

	clients.Broadcast("session-a", 5)

	select {
	case msg := <-b.Msg:
		if msg != "5" {
			t.Errorf("Expected slot 5, got %q", msg)
		}
	default:
		t.Error("Expected session-b to be notified")
	}

	select {
	case msg := <-a.Msg:
		t.Errorf("Origin should not be notified, got %q", msg)
	default:
	}
}

func TestBroadcastDoesNotBlock(t *testing.T) {
	clients := NewSSEClients()
	slow := &Client{Msg: make(chan string), Owner: "slow"}
	clients.Add(slow)

	done := make(chan struct{})
	go func() {
		clients.Broadcast("other", 1)
		close(done)
	}()
	<-done
}

func TestDelete(t *testing.T) {
	clients := NewSSEClients()
	c := NewClient("x")
	clients.Add(c)

	clients.Delete(c)
	if clients.Len() != 0 {
		t.Errorf("Expected no clients, got %d", clients.Len())
	}
	if _, ok := <-c.Msg; ok {
		t.Error("Expected channel to be closed")
	}

	clients.Delete(c)
}
