package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// TestingEnv is a server running realtime handlers, used to test them
// through real connections.
type TestingEnv struct {
	server *httptest.Server
	t      *testing.T

	mutex  sync.Mutex
	logger func(...any)
	conns  []*websocket.Conn
}

// NewTestingEnv starts a server creating a handler with newHandler for each
// connection. Logs go to the test output until the environment is closed.
func NewTestingEnv(t *testing.T, newHandler func() Handler) *TestingEnv {
	env := &TestingEnv{
		t:      t,
		logger: t.Log,
	}

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}
	logs.SetLogger(env.log)
	errors.Encoder = json.Marshal

	env.server = httptest.NewServer(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})
	return env
}

// Dial connects a new client with a random client id.
func (e *TestingEnv) Dial() *websocket.Conn {
	config, err := websocket.NewConfig(
		strings.Replace(e.server.URL, "http://", "ws://", 1),
		"http://localhost",
	)
	if err != nil {
		e.t.Fatalf("creating websocket config failed: %s", err)
	}

	config.Header.Set("User-Agent", "tilecache-test")
	config.Header.Set("X-Forwarded-For", "192.0.0.1")
	config.Header.Set(ClientIDHeader, uuid.NewString())

	conn, err := websocket.DialConfig(config)
	if err != nil {
		e.t.Fatalf("dialing websocket failed: %s", err)
	}

	e.mutex.Lock()
	e.conns = append(e.conns, conn)
	e.mutex.Unlock()
	return conn
}

// Close disconnects the clients and stops the server.
func (e *TestingEnv) Close() {
	e.mutex.Lock()
	e.logger = nil
	conns := e.conns
	e.conns = nil
	e.mutex.Unlock()

	for _, c := range conns {
		c.Close()
	}
	e.server.Close()
}

func (e *TestingEnv) log(entry logs.Entry) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.logger != nil {
		e.logger(entry)
	}
}
