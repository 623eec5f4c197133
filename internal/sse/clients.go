// Package sse fans out slot change notifications to connected editors.
package sse

import (
	"sync"

	"github.com/debemdeboas/the-calendar/internal/model"
)

// Client is one open event stream. Owner is the session that opened it;
// a session is not told about its own changes.
type Client struct {
	Msg   chan string
	Owner string
}

func NewClient(owner string) *Client {
	return &Client{
		Msg:   make(chan string, 8),
		Owner: owner,
	}
}

type SSEClients struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

func NewSSEClients() *SSEClients {
	return &SSEClients{
		clients: make(map[*Client]bool),
	}
}

func (s *SSEClients) Add(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *SSEClients) Delete(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.Msg)
}

func (s *SSEClients) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast tells every client except the origin's that slot changed. Slow
// clients miss the message rather than block the sender.
func (s *SSEClients) Broadcast(origin string, slot model.Slot) {
	msg := slot.String()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.Owner == origin {
			continue
		}
		select {
		case client.Msg <- msg:
		default:
		}
	}
}
