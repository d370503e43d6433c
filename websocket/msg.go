package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	MsgTypePingRequest        = "ping_request"
	MsgTypePingResponse       = "ping_response"
	MsgTypeMatchRequest       = "match_request"
	MsgTypeMatchResponse      = "match_response"
	MsgTypeRegisterRequest    = "register_request"
	MsgTypeRegisterResponse   = "register_response"
	MsgTypeUnregisterRequest  = "unregister_request"
	MsgTypeUnregisterResponse = "unregister_response"
	MsgTypeFeaturesRequest    = "features_request"
	MsgTypeFeaturesResponse   = "features_response"
	MsgTypeStatsRequest       = "stats_request"
	MsgTypeStatsResponse      = "stats_response"
	MsgTypeErrorResponse      = "error_response"
)

const (
	// ErrTypeMsgDecode is the type of errors returned when a message or its
	// data cannot be decoded.
	ErrTypeMsgDecode = "ws_msg_decode"

	// ErrTypeMsgEncode is the type of errors returned when a message cannot
	// be encoded.
	ErrTypeMsgEncode = "ws_msg_encode"
)

// Msg is a message exchanged with a client. Data holds the JSON payload
// specific to the message type.
type Msg struct {
	Type      string          `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with the given data encoded as JSON.
func NewMsg(msgType string, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now(),
	}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithType(ErrTypeMsgEncode).
				WithTag("msg_type", msgType).
				Wrap(err)
		}
		msg.Data = b
	}
	return msg, nil
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// TypeString returns the message type, or "unknown" when empty.
func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return m.Type
}

// ErrorData is the data of error responses.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Receiver receives a message. It returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender sends a message. It returns the number of bytes written.
type Sender func(Msg) (int, error)

// ResponseSender sends messages to the client of a connection.
type ResponseSender interface {
	Send(msgType string, requestID uint32, data any)
	SendMsg(Msg)
}

// JSONCodec reads and writes messages as JSON text frames.
var JSONCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		b, err := json.Marshal(v)
		return b, websocket.TextFrame, err
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		return json.Unmarshal(data, v)
	},
}

// NewReceiver returns a receiver reading messages from conn.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").
				WithType(ErrTypeMsgDecode).
				Wrap(err)
		}
		return msg, len(data), nil
	}
}

// NewSender returns a sender writing messages to conn.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithType(ErrTypeMsgEncode).
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}
