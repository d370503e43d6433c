package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/tilecache/cache"
	"github.com/aukilabs/tilecache/eviction"
	"github.com/aukilabs/tilecache/featureflag"
	tilehttp "github.com/aukilabs/tilecache/http"
	"github.com/aukilabs/tilecache/quadtree"
	"github.com/aukilabs/tilecache/smoketest"
	"github.com/aukilabs/tilecache/store"
	cachews "github.com/aukilabs/tilecache/websocket"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The tilecache version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "tilecache_info",
		Help:        "Tilecache information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string          `cli:""        env:"TILECACHE_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string          `cli:""        env:"TILECACHE_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string          `cli:""        env:"TILECACHE_PUBLIC_ENDPOINT"      help:"The public endpoint where this tilecache server is reachable."`
	LogLevel           string          `cli:""        env:"TILECACHE_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool            `cli:""        env:"TILECACHE_LOG_INDENT"           help:"Indent logs."`
	RootBounds         string          `cli:""        env:"TILECACHE_ROOT_BOUNDS"          help:"The initial tree bounds (minx,miny,maxx,maxy)."`
	MaxDepth           int             `cli:""        env:"TILECACHE_MAX_DEPTH"            help:"The maximum depth of the tree."`
	DataFile           string          `cli:""        env:"TILECACHE_DATA_FILE"            help:"GeoJSON feature collection served through the cache."`
	APIKey             string          `cli:""        env:"TILECACHE_API_KEY"              help:"API key required to register and unregister regions."`
	MaxNodes           int             `cli:",hidden" env:"TILECACHE_MAX_NODES"            help:"The number of tree nodes above which regions are evicted."`
	EvictionInterval   time.Duration   `cli:",hidden" env:"TILECACHE_EVICTION_INTERVAL"    help:"The duration between each eviction pass."`
	ClientIdleTimeout  time.Duration   `cli:",hidden" env:"TILECACHE_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	LogSummaryInterval time.Duration   `cli:",hidden" env:"TILECACHE_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	SmokeTest          smokeTestConfig `cli:",hidden" env:"-"                              help:"Smoke test configuration."`
	Events             eventsConfig    `cli:",hidden" env:"-"                              help:"Event pusher configuration."`
	FeatureFlags       []string        `cli:",hidden" env:"TILECACHE_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool            `cli:""        env:"-"                              help:"Show version."`
	Help               bool            `cli:""        env:"-"                              help:"Show help."`
}

type smokeTestConfig struct {
	ResultEndpoint string `cli:",hidden" env:"TILECACHE_SMOKE_TEST_RESULT_ENDPOINT" help:"Endpoint to where smoke test results are posted. Results are logged when empty."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"TILECACHE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"TILECACHE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"TILECACHE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"TILECACHE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		RootBounds:         "-180,-90,180,90",
		MaxDepth:           quadtree.DefaultMaxDepth,
		MaxNodes:           100000,
		EvictionInterval:   eviction.DefaultInterval,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts tilecache server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	rootBounds, err := parseBounds(conf.RootBounds)
	if err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "tilecache",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	dataStore, err := loadStore(conf.DataFile)
	if err != nil {
		logs.Fatal(err)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	tracker := cache.NewTracker(rootBounds,
		cache.WithFeatureFlags(featureFlags),
		cache.WithTreeOptions(quadtree.WithMaxDepth(conf.MaxDepth)),
	)
	featureCache := &cache.FeatureCache{
		Tracker: tracker,
		Store:   dataStore,
	}

	var onRegister func()
	featureFlags.IfNotSet(featureflag.FlagDisableEviction, func() {
		worker := eviction.Worker{
			Cache:     tracker,
			MaxNodes:  conf.MaxNodes,
			Interval:  conf.EvictionInterval,
			NudgeChan: make(chan struct{}, 1),
		}
		worker.Start(ctx)
		onRegister = worker.Nudge
	})

	var service http.ServeMux

	api := tilehttp.API{
		Tracker:    tracker,
		Cache:      featureCache,
		APIKey:     conf.APIKey,
		OnRegister: onRegister,
	}
	apiHandler := tilehttp.HandleWithCORS(api.Handler())
	service.Handle("/match", apiHandler)
	service.Handle("/register", apiHandler)
	service.Handle("/unregister", apiHandler)
	service.Handle("/features", apiHandler)
	service.Handle("/stats", apiHandler)

	service.HandleFunc("/health", tilehttp.HandleHealthCheck)
	service.Handle("/version", tilehttp.HandleWithCORS(http.HandlerFunc(tilehttp.HandleVersion(version))))

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}
	service.Handle("/ready", tilehttp.HandleWithCORS(http.HandlerFunc(tilehttp.HandleReadyCheck(readinessCheck))))

	service.Handle("/smoke-test", tilehttp.VerifyAPIKeyHandler(conf.APIKey, smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("tilecache %s", version),
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			return sendSmokeTestResult(ctx, transport, conf.SmokeTest.ResultEndpoint, res)
		},
	})))

	service.Handle("/ws", websocket.Server{
		Handshake: tilehttp.VerifyAPIKey(conf.APIKey),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh cachews.Handler = &cachews.RealtimeHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Tracker:           tracker,
				Cache:             featureCache,
				OnRegister:        onRegister,
			}
			h := cachews.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = cachews.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			cachews.Handle(ctx, conn, h)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", tilehttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", tilehttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("root_bounds", conf.RootBounds).
		WithTag("max_depth", conf.MaxDepth).
		WithTag("features", dataStore.Len()).
		Info("starting tilecache server")

	tilehttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			tilehttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func loadStore(filename string) (*store.Memory, error) {
	if filename == "" {
		return store.NewMemory()
	}

	s, err := store.LoadGeoJSONFile(filename)
	if err != nil {
		return nil, errors.New("loading data file failed").
			WithTag("file_name", filename).
			Wrap(err)
	}
	return s, nil
}

func sendSmokeTestResult(ctx context.Context, transport http.RoundTripper, endpoint string, res smoketest.Results) error {
	if endpoint == "" {
		logs.WithTag("run_id", res.RunID).
			WithTag("to_endpoint", res.ToEndpoint).
			WithTag("status", res.Status).
			WithTag("latency_ms", res.LatencyMilliSec).
			Info("smoke test completed")
		return nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return errors.New("encoding smoke test result failed").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("creating smoke test result request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return errors.New("posting smoke test result failed").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf("posting smoke test result failed with status %d", resp.StatusCode).
			WithTag("endpoint", endpoint)
	}
	return nil
}

func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.New("root bounds must be minx,miny,maxx,maxy").
			WithTag("root_bounds", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, errors.New("invalid root bounds").
				WithTag("root_bounds", s).
				Wrap(err)
		}
		v[i] = f
	}

	b := orb.Bound{
		Min: orb.Point{v[0], v[1]},
		Max: orb.Point{v[2], v[3]},
	}
	if b.Min.X() >= b.Max.X() || b.Min.Y() >= b.Max.Y() {
		return orb.Bound{}, errors.New("root bounds must have an area").
			WithTag("root_bounds", s)
	}
	return b, nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.MaxDepth < 0 {
		return errors.New("max depth must not be negative").
			WithTag("max_depth", conf.MaxDepth)
	}

	if conf.MaxNodes <= 0 {
		return errors.New("max nodes must be positive").
			WithTag("max_nodes", conf.MaxNodes)
	}

	if conf.SmokeTest.ResultEndpoint != "" {
		if _, err := url.ParseRequestURI(conf.SmokeTest.ResultEndpoint); err != nil {
			return errors.New("invalid smoke test result endpoint").Wrap(err)
		}
	}

	return featureflag.New(conf.FeatureFlags).Validate()
}
