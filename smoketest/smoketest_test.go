package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/tilecache/cache"
	"github.com/aukilabs/tilecache/quadtree"
	cachews "github.com/aukilabs/tilecache/websocket"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	tracker := cache.NewTracker(orb.Bound{Max: orb.Point{100, 100}},
		cache.WithTreeOptions(quadtree.WithMaxDepth(3)))

	var mux http.ServeMux
	mux.Handle("/ws", websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := &cachews.RealtimeHandler{
				ClientIdleTimeout: time.Minute,
				Tracker:           tracker,
			}
			defer h.Close()

			cachews.Handle(context.Background(), conn, h)
		},
	})

	server := httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return server
}

func runHandler(t *testing.T, req Request) Results {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resChan := make(chan Results, 1)
	smokeTest := HandleSmokeTest(ctx, Options{
		Endpoint:  "http://localtilecache",
		UserAgent: "tilecache test",
		SendResult: func(_ context.Context, res Results) error {
			resChan <- res
			return nil
		},
	})

	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	smokeTest.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://localtilecache/smoke-test", bytes.NewBuffer(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case res := <-resChan:
		return res
	case <-ctx.Done():
		t.Fatal("smoke test result not sent")
		return Results{}
	}
}

func TestSmokeTest(t *testing.T) {
	t.Run("smoke test success", func(t *testing.T) {
		server := newTestServer(t)

		res := runHandler(t, Request{
			Endpoint: server.URL,
			Timeout:  time.Second,
		})
		require.Equal(t, StatusSuccess, res.Status)
		require.Equal(t, "http://localtilecache", res.FromEndpoint)
		require.Equal(t, server.URL, res.ToEndpoint)
		require.NotEmpty(t, res.RunID)
		require.Empty(t, res.Error)
		require.Greater(t, res.LatencyMilliSec, float64(0))
	})

	t.Run("smoke test with bbox", func(t *testing.T) {
		server := newTestServer(t)

		res, err := RunSmokeTest(context.Background(), RunOptions{
			Request: Request{
				Endpoint: server.URL + "/ws",
				BBox:     [4]float64{10, 10, 20, 20},
			},
		})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)
	})

	t.Run("smoke test failed - offline", func(t *testing.T) {
		res := runHandler(t, Request{
			Endpoint: "http://127.0.0.1:1",
			Timeout:  time.Second,
		})
		require.Equal(t, StatusFailed, res.Status)
		require.Equal(t, "http://127.0.0.1:1", res.ToEndpoint)
		require.Equal(t, float64(0), res.LatencyMilliSec)
		require.NotEmpty(t, res.Error)
	})

	t.Run("smoke test failed - invalid bbox", func(t *testing.T) {
		server := newTestServer(t)

		_, err := RunSmokeTest(context.Background(), RunOptions{
			Request: Request{
				Endpoint: server.URL,
				BBox:     [4]float64{20, 20, 10, 10},
			},
		})
		require.Error(t, err)
	})

	t.Run("bad request", func(t *testing.T) {
		smokeTest := HandleSmokeTest(context.Background(), Options{})

		rec := httptest.NewRecorder()
		smokeTest.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewBufferString("{")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		endpoint string
		expected string
	}{
		{endpoint: "http://localhost:4000", expected: "ws://localhost:4000/ws"},
		{endpoint: "https://tilecache.example.com/", expected: "wss://tilecache.example.com/ws"},
		{endpoint: "ws://localhost:4000/ws", expected: "ws://localhost:4000/ws"},
	}

	for _, test := range tests {
		t.Run(test.endpoint, func(t *testing.T) {
			require.Equal(t, test.expected, websocketURL(test.endpoint))
		})
	}
}
