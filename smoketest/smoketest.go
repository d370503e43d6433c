package smoketest

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tilecache/cache"
	cachews "github.com/aukilabs/tilecache/websocket"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	// ErrTypeSmokeTest is the type of errors returned when a smoke test
	// step fails.
	ErrTypeSmokeTest = "smoke_test_failed"

	defaultTimeout = time.Second * 10
)

// Request is the body of a smoke test request.
type Request struct {
	// The endpoint of the tilecache server to test.
	Endpoint string `json:"endpoint"`

	// The API key sent as a bearer token.
	Token string `json:"token,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	// The area matched during the test. The tested server bounds are used
	// when empty.
	BBox [4]float64 `json:"bbox,omitempty"`
}

// Results describes the outcome of a smoke test.
type Results struct {
	RunID           string  `json:"run_id"`
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	Endpoint   string
	UserAgent  string
	SendResult func(context.Context, Results) error
}

// HandleSmokeTest returns a handler that starts a smoke test against the
// endpoint in the request body. The results are sent asynchronously with
// opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			res, err := RunSmokeTest(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				UserAgent:    opts.UserAgent,
				Request:      req,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunOptions struct {
	FromEndpoint string
	UserAgent    string
	Request
}

// RunSmokeTest connects to the tested server realtime API and runs a ping,
// a stats and a match request. The latency is the ping round trip. The
// returned results are filled even when an error is returned.
func RunSmokeTest(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		RunID:        uuid.NewString(),
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.Endpoint,
		Status:       StatusFailed,
	}

	err := runSmokeTest(ctx, opts, &res)
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("smoke test failed").
			WithType(ErrTypeSmokeTest).
			WithTag("run_id", res.RunID).
			WithTag("to_endpoint", opts.Endpoint).
			Wrap(err)
	}

	res.Status = StatusSuccess
	return res, nil
}

func runSmokeTest(ctx context.Context, opts RunOptions, res *Results) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, opts, res.RunID)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	var requestID uint32
	request := func(msgType, resType string, data any) (cachews.Msg, error) {
		requestID++

		msg, err := cachews.NewMsg(msgType, requestID, data)
		if err != nil {
			return cachews.Msg{}, err
		}
		if err := cachews.JSONCodec.Send(conn, msg); err != nil {
			return cachews.Msg{}, errors.New("sending request failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}

		var r cachews.Msg
		if err := cachews.JSONCodec.Receive(conn, &r); err != nil {
			return cachews.Msg{}, errors.New("receiving response failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}
		if r.Type != resType || r.RequestID != requestID {
			return cachews.Msg{}, errors.Newf("unexpected response %q", r.Type).
				WithTag("request_id", requestID).
				WithTag("response_request_id", r.RequestID).
				WithTag("response", string(r.Data))
		}
		return r, nil
	}

	start := time.Now()
	if _, err := request(cachews.MsgTypePingRequest, cachews.MsgTypePingResponse, nil); err != nil {
		return err
	}
	res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000

	msg, err := request(cachews.MsgTypeStatsRequest, cachews.MsgTypeStatsResponse, nil)
	if err != nil {
		return err
	}
	var stats cache.Stats
	if err := msg.DataTo(&stats); err != nil {
		return err
	}

	bbox := opts.BBox
	if bbox == [4]float64{} {
		bbox = stats.Bounds
	}
	f := cache.BBox(orb.Bound{
		Min: orb.Point{bbox[0], bbox[1]},
		Max: orb.Point{bbox[2], bbox[3]},
	})

	_, err = request(cachews.MsgTypeMatchRequest, cachews.MsgTypeMatchResponse, f)
	return err
}

func dial(ctx context.Context, opts RunOptions, runID string) (*websocket.Conn, error) {
	origin := opts.FromEndpoint
	if origin == "" {
		origin = "http://localhost"
	}

	config, err := websocket.NewConfig(websocketURL(opts.Endpoint), origin)
	if err != nil {
		return nil, errors.New("creating websocket config failed").Wrap(err)
	}

	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}
	config.Header.Set(cachews.ClientIDHeader, "smoketest-"+runID)
	if opts.Token != "" {
		config.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	deadline, _ := ctx.Deadline()
	config.Dialer = &net.Dialer{Deadline: deadline}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, errors.New("dialing websocket failed").
			WithTag("endpoint", opts.Endpoint).
			Wrap(err)
	}
	return conn, nil
}

// websocketURL returns the realtime API URL of an endpoint given as an http
// or websocket URL.
func websocketURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")

	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}

	if !strings.HasSuffix(endpoint, "/ws") {
		endpoint += "/ws"
	}
	return endpoint
}
