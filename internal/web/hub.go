// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relabs-tech/sensors_to_mqtt/internal/publisher"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 32
	writeWait         = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins
	},
}

var _ publisher.Publisher = (*Hub)(nil)

type client struct {
	socket *websocket.Conn
	send   chan []byte
}

// Hub streams every published sample to the connected websocket clients as
// JSON. It is a publisher.Publisher that never blocks the acquisition loop:
// a client whose buffer is full misses the sample.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	log     logrus.FieldLogger
}

// NewHub returns an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		log:     log.WithField("component", "web"),
	}
}

// Publish implements publisher.Publisher.
func (h *Hub) Publish(name string, s sensors.Sample) error {
	s.Device = name
	msg, err := json.Marshal(s)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug("client too slow, sample dropped")
		}
	}
	return nil
}

// IsConnected implements publisher.Publisher. Having no clients is not a
// connection problem.
func (h *Hub) IsConnected() bool { return true }

// Reconnect implements publisher.Publisher.
func (h *Hub) Reconnect() error { return nil }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Info("client joined")
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.log.Info("client left")
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams samples until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade: %v", err)
		return
	}
	c := &client{socket: socket, send: make(chan []byte, messageBufferSize)}
	h.join(c)
	defer h.leave(c)

	go c.write(h.log)
	c.read()
}

// read discards incoming frames; it only returns once the peer is gone.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write(log logrus.FieldLogger) {
	defer c.socket.Close()
	for msg := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("websocket write: %v", err)
			}
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
