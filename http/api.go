package http

import (
	"io"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tilecache/cache"
	"github.com/paulmach/orb/geojson"
	"github.com/segmentio/encoding/json"
)

const (
	// ErrTypeBadRequest is the type of errors returned when a request body
	// cannot be decoded.
	ErrTypeBadRequest = "bad_request"

	maxBodySize = 1 << 20
)

// API serves the tracker operations over HTTP.
type API struct {
	Tracker *cache.Tracker
	Cache   *cache.FeatureCache

	// APIKey protects the operations changing the cache state when set.
	APIKey string

	// Called after regions are registered. Used to wake the eviction
	// worker.
	OnRegister func()
}

// Handler returns the handler routing the API endpoints.
func (a API) Handler() http.Handler {
	var mux http.ServeMux
	mux.HandleFunc("POST /match", a.handleMatch)
	mux.Handle("POST /register", VerifyAPIKeyHandler(a.APIKey, http.HandlerFunc(a.handleRegister)))
	mux.Handle("POST /unregister", VerifyAPIKeyHandler(a.APIKey, http.HandlerFunc(a.handleUnregister)))
	mux.HandleFunc("POST /features", a.handleFeatures)
	mux.HandleFunc("GET /stats", a.handleStats)
	return &mux
}

func (a API) handleMatch(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := a.Tracker.Match(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RegisterResponse is the response of a register request.
type RegisterResponse struct {
	Validated [][4]float64 `json:"validated"`
}

func (a API) handleRegister(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	validated, err := a.Tracker.Register(f)
	if err != nil {
		writeError(w, err)
		return
	}

	res := RegisterResponse{Validated: make([][4]float64, 0, len(validated))}
	for _, b := range validated {
		res.Validated = append(res.Validated, [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()})
	}
	writeJSON(w, http.StatusOK, res)

	if a.OnRegister != nil {
		a.OnRegister()
	}
}

func (a API) handleUnregister(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.Tracker.Unregister(f); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a API) handleFeatures(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	features, err := a.Cache.Features(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = features
	writeJSON(w, http.StatusOK, fc)
}

func (a API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tracker.Stats())
}

func decodeFilter(r *http.Request) (cache.Filter, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return cache.Filter{}, errors.New("reading body failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}

	var f cache.Filter
	if err := json.Unmarshal(b, &f); err != nil {
		return cache.Filter{}, errors.New("decoding filter failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return f, nil
}

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Type(err) {
	case ErrTypeBadRequest, cache.ErrTypeInvalidFilter:
		status = http.StatusBadRequest

	case ErrTypeUnauthorized:
		status = http.StatusUnauthorized

	case cache.ErrTypeStore:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logs.Warn(err)
	}

	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
