package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/config"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/hub"
	natsbridge "github.com/pitbox-racing/pitbox-relay-go/pkg/hub/bridge/nats"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ingest"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/parity"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ratelimit"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/registry"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/utils"
)

var appConfig config.Config // holds processed config values

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the relay hub server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			appConfig = config.Config{}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer()
		},
	}
	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:8080",
		"server listen address")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	cmd.Flags().BoolVar(&appConfig.PrintMessage,
		"print-message",
		false,
		"if true and log level is debug, the message payload will be printed")
	cmd.Flags().StringVar(&config.StaleDuration,
		"stale-duration",
		"60s",
		"session is removed if no data was received for this duration")
	cmd.Flags().StringVar(&config.ReapInterval,
		"reap-interval",
		"30s",
		"interval between stale session sweeps")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"if set, reliable events are republished to this NATS server")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

//nolint:funlen,cyclop // by design
func startServer() error {
	var logger *log.Logger
	var telemetry *config.Telemetry
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}

	log.ResetDefault(logger)

	log.Debug("Config:",
		log.String("addr", config.Addr),
		log.String("staleDuration", config.StaleDuration),
		log.String("reapInterval", config.ReapInterval),
		log.String("natsUrl", config.NatsURL),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices()

	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(context.Background()); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	log.Info("Starting server")

	staleDuration, err := time.ParseDuration(config.StaleDuration)
	if err != nil {
		staleDuration = time.Minute
	}
	reapInterval, err := time.ParseDuration(config.ReapInterval)
	if err != nil {
		reapInterval = 30 * time.Second
	}

	tracker := parity.NewTracker()
	sessions := registry.NewRegistry(
		registry.WithStaleDuration(staleDuration),
		registry.WithReapInterval(reapInterval),
		registry.WithEvictCallback(func(sessionID string) {
			tracker.Cleanup(sessionID)
		}))

	hubOpts := []hub.Option{hub.WithSessionLookup(sessions)}
	if config.NatsURL != "" {
		bridge, err := natsbridge.NewBridge(config.NatsURL)
		if err != nil {
			log.Error("could not connect NATS bridge", log.ErrorField(err))
			return err
		}
		hubOpts = append(hubOpts, hub.WithBridge(bridge))
	}
	broadcastHub := hub.NewHub(hubOpts...)

	svc := newRelayService(
		withLimiter(ratelimit.NewLimiter()),
		withAdapter(ingest.NewAdapter()),
		withRegistry(sessions),
		withTracker(tracker),
		withHub(broadcastHub),
		withPrintMessage(appConfig.PrintMessage))

	router := mux.NewRouter()
	router.HandleFunc("/info", svc.handleInfo).Methods(http.MethodGet)
	router.HandleFunc("/relay", svc.handleRelay)
	router.HandleFunc("/subscribe", svc.handleSubscribe)

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           newCORS().Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sessions.Start()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", log.String("addr", config.Addr))
		serverErr <- server.ListenAndServe()
	}()
	log.Info("Server started")
	setupGoRoutinesDump()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case v := <-sigChan:
		log.Debug("Got signal ", log.Any("signal", v))
	case err := <-serverErr:
		log.Error("server could not be started", log.ErrorField(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", log.ErrorField(err))
	}
	sessions.Stop()
	broadcastHub.Close()
	if telemetry != nil {
		telemetry.Shutdown()
	}

	log.Info("Server terminated")
	return nil
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices() {
	if config.NatsURL == "" {
		return
	}
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTcp := func(addr string) {
		if err = utils.WaitForTCP(addr, timeout); err != nil {
			log.Fatal("required services not ready", log.ErrorField(err))
		}
		wg.Done()
	}

	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		wg.Add(1)
		go checkTcp(natsAddr)
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	log.Debug("Required services are available")
}

func newCORS() *cors.Cors {
	// Dashboards and overlays run in browsers on arbitrary origins, so the
	// CORS setup is permissive.
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			// Allow all origins, which effectively disables CORS.
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Content-Encoding",
		},
		MaxAge: int(2 * time.Hour / time.Second),
	})
}
