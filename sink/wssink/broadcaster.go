package wssink

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/sink"
)

const writeTimeout = 5 * time.Second

type DataSource interface {
	GetData() co2mon.Reading
}

// Broadcaster streams every new reading to all connected websocket clients.
type Broadcaster struct {
	src      DataSource
	format   sink.Format
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]*client
}

// client serializes writes to one connection so a slow peer only stalls itself.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg sink.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func New(src DataSource) *Broadcaster {
	return &Broadcaster{
		src:    src,
		format: sink.QueryFormat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*websocket.Conn]*client{},
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %s", err)
		return
	}

	c := &client{conn: conn}
	b.mu.Lock()
	b.clients[conn] = c
	n := len(b.clients)
	b.mu.Unlock()
	log.Infof("websocket client connected, total clients: %d", n)

	// new clients get the current value right away
	if reading := b.src.GetData(); reading.Valid() {
		b.send(c, b.format.Message(reading))
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.drop(conn)
}

func (b *Broadcaster) Name() string {
	return "websocket"
}

// Publish never fails: clients that cannot keep up are disconnected instead.
func (b *Broadcaster) Publish(_ context.Context, r co2mon.Reading) error {
	msg := b.format.Message(r)
	var wg sync.WaitGroup
	for _, c := range b.snapshot() {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			b.send(c, msg)
		}(c)
	}
	wg.Wait()
	return nil
}

func (b *Broadcaster) Close() error {
	for _, c := range b.snapshot() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		b.drop(c.conn)
	}
	return nil
}

func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) snapshot() []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

func (b *Broadcaster) send(c *client, msg sink.Message) {
	if err := c.write(msg); err != nil {
		log.Warnf("websocket write error: %s", err)
		b.drop(c.conn)
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[conn]; ok {
		_ = conn.Close()
		delete(b.clients, conn)
		log.Infof("websocket client disconnected, total clients: %d", len(b.clients))
	}
}
