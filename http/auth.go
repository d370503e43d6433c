package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	// ErrTypeUnauthorized is the type of errors returned when a request
	// does not carry the expected API key.
	ErrTypeUnauthorized = "unauthorized"

	// ClientIDHeader is the header where clients may send their id.
	ClientIDHeader = "X-Client-Id"
)

// VerifyAPIKey returns a websocket handshake that rejects connections whose
// request does not carry apiKey. An empty apiKey accepts every connection.
func VerifyAPIKey(apiKey string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyAPIKey(apiKey, r); err != nil {
			logs.WithTag(logs.ClientIDTag, r.Header.Get(ClientIDHeader)).Error(err)
			return err
		}
		return nil
	}
}

// VerifyAPIKeyHandler rejects requests that do not carry apiKey with a 401.
// An empty apiKey accepts every request.
func VerifyAPIKeyHandler(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := verifyAPIKey(apiKey, r); err != nil {
			logs.WithTag(logs.ClientIDTag, r.Header.Get(ClientIDHeader)).Error(err)
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func verifyAPIKey(apiKey string, r *http.Request) error {
	if apiKey == "" {
		return nil
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
		return errors.New("invalid api key").
			WithType(ErrTypeUnauthorized).
			WithTag("remote_addr", r.RemoteAddr)
	}
	return nil
}
