// Package sse streams worker events to connected clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a single client write so a stale connection cannot
// stall a broadcast.
const WriteTimeout = 2 * time.Second

// Event types emitted by the worker.
const (
	EventObservationStored = "observation_stored"
	EventNewPrompt         = "new_prompt"
	EventSessionCompleted  = "session_completed"
	EventSummarizeQueued   = "summarize_queued"
	EventProcessingStatus  = "processing_status"
)

// Event is one broadcast message.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// Client is one connected event stream.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// Broadcaster fans worker events out to every connected client. Broadcasts
// are fire-and-forget: a failing or slow client is dropped, never reported
// back to the caller.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a connection for broadcasts.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("client_id", client.ID).
		Int("total_clients", count).
		Msg("Event stream client connected")

	return client, nil
}

// RemoveClient disconnects a client.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	select {
	case <-client.Done:
	default:
		close(client.Done)
	}

	log.Debug().
		Str("client_id", client.ID).
		Int("total_clients", count).
		Msg("Event stream client disconnected")
}

func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if exists {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
	}
}

// Broadcast sends data to every connected client. Dead clients are detected
// by write failure or timeout and reaped after the fan-out.
func (b *Broadcaster) Broadcast(data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadCh := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			b.writeToClient(c, message, deadCh)
		}(client)
	}
	wg.Wait()
	close(deadCh)

	for id := range deadCh {
		b.removeClientByID(id)
	}
}

// Emit broadcasts a typed event.
func (b *Broadcaster) Emit(eventType string, data map[string]interface{}) {
	b.Broadcast(NewEvent(eventType, data))
}

func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			log.Debug().Str("client_id", client.ID).Err(err).Msg("Event write failed")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(WriteTimeout):
		log.Warn().Str("client_id", client.ID).Msg("Event write timed out")
		deadCh <- client.ID
	case <-client.Done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event-stream connection until the client goes away.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client_id\":\"%s\"}\n\n", client.ID)
	client.Flusher.Flush()

	<-r.Context().Done()
}
