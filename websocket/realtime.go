package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tilecache/cache"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/net/websocket"
)

// Error codes carried by error responses.
const (
	ErrCodeUnknownMsgType = "unknown_msg_type"
	ErrCodeInvalidFilter  = "invalid_filter"
	ErrCodeStore          = "store_unavailable"
	ErrCodeInternal       = "internal_server_error"
)

// ClientIDHeader is the header carrying the id a client identifies itself
// with. A random id is assigned when it is missing.
const ClientIDHeader = "X-Client-Id"

// RealtimeHandler serves the cache operations to a single client
// connection.
type RealtimeHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The tracker answering match, register and unregister requests.
	Tracker *cache.Tracker

	// The read-through cache answering feature requests.
	Cache *cache.FeatureCache

	// Called after regions are registered. Used to wake the eviction
	// worker.
	OnRegister func()

	conn     *websocket.Conn
	clientID string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	h.clientID = conn.Request().Header.Get(ClientIDHeader)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(MsgTypePingResponse, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleMatch(ctx context.Context, respond ResponseSender, msg Msg) error {
	var f cache.Filter
	if err := msg.DataTo(&f); err != nil {
		return err
	}

	res, err := h.Tracker.Match(f)
	if err != nil {
		h.respondError(respond, msg, err)
		return nil
	}

	respond.Send(MsgTypeMatchResponse, msg.RequestID, res)
	return nil
}

// RegisterResponse is the data of register responses. Validated holds the
// areas marked as cached as [minx, miny, maxx, maxy] arrays.
type RegisterResponse struct {
	Validated [][4]float64 `json:"validated"`
}

func (h *RealtimeHandler) HandleRegister(ctx context.Context, respond ResponseSender, msg Msg) error {
	var f cache.Filter
	if err := msg.DataTo(&f); err != nil {
		return err
	}

	validated, err := h.Tracker.Register(f)
	if err != nil {
		h.respondError(respond, msg, err)
		return nil
	}

	res := RegisterResponse{Validated: make([][4]float64, 0, len(validated))}
	for _, b := range validated {
		res.Validated = append(res.Validated, [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()})
	}
	respond.Send(MsgTypeRegisterResponse, msg.RequestID, res)

	if h.OnRegister != nil {
		h.OnRegister()
	}
	return nil
}

func (h *RealtimeHandler) HandleUnregister(ctx context.Context, respond ResponseSender, msg Msg) error {
	var f cache.Filter
	if err := msg.DataTo(&f); err != nil {
		return err
	}

	if err := h.Tracker.Unregister(f); err != nil {
		h.respondError(respond, msg, err)
		return nil
	}

	respond.Send(MsgTypeUnregisterResponse, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleFeatures(ctx context.Context, respond ResponseSender, msg Msg) error {
	var f cache.Filter
	if err := msg.DataTo(&f); err != nil {
		return err
	}

	features, err := h.Cache.Features(ctx, f)
	if err != nil {
		h.respondError(respond, msg, err)
		return nil
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = features
	respond.Send(MsgTypeFeaturesResponse, msg.RequestID, fc)
	return nil
}

func (h *RealtimeHandler) HandleStats(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(MsgTypeStatsResponse, msg.RequestID, h.Tracker.Stats())
	return nil
}

func (h *RealtimeHandler) HandleDisconnect(err error) {
}

func (h *RealtimeHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *RealtimeHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func (h *RealtimeHandler) respondError(respond ResponseSender, msg Msg, err error) {
	code := ErrCodeInternal
	switch errors.Type(err) {
	case cache.ErrTypeInvalidFilter:
		code = ErrCodeInvalidFilter

	case cache.ErrTypeStore:
		code = ErrCodeStore

	default:
		logs.WithTag(logs.ClientIDTag, h.clientID).
			WithTag("msg_type", msg.TypeString()).
			WithTag("request_id", msg.RequestID).
			Warn(err)
	}

	respond.Send(MsgTypeErrorResponse, msg.RequestID, ErrorData{
		Code:    code,
		Message: err.Error(),
	})
}
