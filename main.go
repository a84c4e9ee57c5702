// Command militia-relay runs the multiplayer relay for the jetpack shooter.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the relay WebSocket,
//     the REST admin API and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API
//     if none is available
//
// Flags (or environment variables, or a .env file) control the listen
// address, rules directory, stats storage, tick rate, reconnect windows,
// debug logging and optional ngrok tunneling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/militia-relay/api"
	"github.com/wricardo/militia-relay/game/config"
	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/service"
	"github.com/wricardo/militia-relay/game/session"
	"github.com/wricardo/militia-relay/game/stats"
	"github.com/wricardo/militia-relay/logging"
	"github.com/wricardo/militia-relay/transport/mcp"
	"github.com/wricardo/militia-relay/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Militia Relay"
)

// sweepInterval is how often expired rooms are torn down.
const sweepInterval = 5 * time.Second

func main() {
	// Load .env file if it exists (ignore error if not found)
	envLoaded := false
	if err := godotenv.Load(); err == nil {
		envLoaded = true
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}

	cmd := newCommand()
	cmd.Metadata = map[string]any{"envLoaded": envLoaded}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. Flags are inherited by the subcommands.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "militia-relay",
		Usage:   AppName + ": authoritative room relay for the jetpack shooter",
		Version: Version,
		Flags:   relayFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run the HTTP server with WebSocket relay, REST API and MCP endpoint (default)",
				Action:  runServe,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run an MCP stdio server backed by an external or internal HTTP API",
				Action:  runStdioMCP,
			},
		},
	}
}

func relayFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "rules-dir", Value: "rules", Usage: "Directory containing rules presets", Sources: cli.EnvVars("RULES_DIR")},
		&cli.StringFlag{Name: "data-dir", Value: "data", Usage: "Directory for file-backed stats (empty disables stats unless Redis is set)", Sources: cli.EnvVars("DATA_DIR")},
		&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for stats (overrides --data-dir)", Sources: cli.EnvVars("REDIS_ADDR")},
		&cli.StringFlag{Name: "redis-password", Usage: "Redis password", Sources: cli.EnvVars("REDIS_PASSWORD")},
		&cli.IntFlag{Name: "redis-db", Usage: "Redis database number", Sources: cli.EnvVars("REDIS_DB")},
		&cli.DurationFlag{Name: "tick", Value: 50 * time.Millisecond, Usage: "Session tick interval", Sources: cli.EnvVars("TICK_INTERVAL")},
		&cli.FloatFlag{Name: "update-rate", Value: 20, Usage: "Max inbound updates per second per connection", Sources: cli.EnvVars("UPDATE_RATE")},
		&cli.IntFlag{Name: "update-burst", Value: 5, Usage: "Inbound update burst per connection", Sources: cli.EnvVars("UPDATE_BURST")},
		&cli.DurationFlag{Name: "reconnect-grace", Value: session.DefaultReconnectGrace, Usage: "How long a disconnected player keeps its slot", Sources: cli.EnvVars("RECONNECT_GRACE")},
		&cli.DurationFlag{Name: "empty-grace", Value: session.DefaultEmptyGrace, Usage: "How long an empty room lives", Sources: cli.EnvVars("EMPTY_GRACE")},
		&cli.StringSliceFlag{Name: "allowed-origins", Usage: "Allowed WebSocket origins (default: any)", Sources: cli.EnvVars("ALLOWED_ORIGINS")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("DEBUG")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// relayConfig is the resolved command configuration.
type relayConfig struct {
	Host           string
	Port           int
	RulesDir       string
	DataDir        string
	Redis          stats.RedisConfig
	Tick           time.Duration
	UpdateRate     float64
	UpdateBurst    int
	ReconnectGrace time.Duration
	EmptyGrace     time.Duration
	AllowedOrigins []string
	Debug          bool
	Ngrok          bool
	NgrokAuth      string
	NgrokDomain    string
}

func configFrom(cmd *cli.Command) relayConfig {
	return relayConfig{
		Host:     cmd.String("host"),
		Port:     cmd.Int("port"),
		RulesDir: cmd.String("rules-dir"),
		DataDir:  cmd.String("data-dir"),
		Redis: stats.RedisConfig{
			Addr:     cmd.String("redis-addr"),
			Password: cmd.String("redis-password"),
			DB:       cmd.Int("redis-db"),
		},
		Tick:           cmd.Duration("tick"),
		UpdateRate:     cmd.Float("update-rate"),
		UpdateBurst:    cmd.Int("update-burst"),
		ReconnectGrace: cmd.Duration("reconnect-grace"),
		EmptyGrace:     cmd.Duration("empty-grace"),
		AllowedOrigins: cmd.StringSlice("allowed-origins"),
		Debug:          cmd.Bool("debug"),
		Ngrok:          cmd.Bool("ngrok"),
		NgrokAuth:      cmd.String("ngrok-auth"),
		NgrokDomain:    cmd.String("ngrok-domain"),
	}
}

func (c relayConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// relay holds the wired components of one running relay.
type relay struct {
	logger   *zap.Logger
	rooms    *session.Manager
	hub      *websocket.Hub
	service  service.RelayService
	store    stats.Store
	recorder *stats.Recorder
	wg       sync.WaitGroup

	// stopRecorder ends the recorder after the rooms are closed, so results
	// of matches cut short by shutdown are still written.
	stopRecorder context.CancelFunc
	recorderDone chan struct{}
}

// newRelay wires the rules manager, stats store, room registry, transport
// hub and admin service.
func newRelay(ctx context.Context, cfg relayConfig, logger *zap.Logger) (*relay, error) {
	rulesManager, err := config.NewManager(cfg.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules manager: %w", err)
	}

	store, err := openStatsStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	r := &relay{logger: logger, store: store}
	if store != nil {
		r.recorder = stats.NewRecorder(store, 64, logger.Named("stats"))
	}

	r.rooms = session.NewManager(
		session.WithTickInterval(cfg.Tick),
		session.WithReconnectGrace(cfg.ReconnectGrace),
		session.WithEmptyGrace(cfg.EmptyGrace),
		session.WithLogger(logger.Named("session")),
		session.WithOnEnd(r.matchEnded),
		session.WithOnExpire(func(code string) {
			r.hub.CloseRoom(code)
		}),
	)
	r.hub = websocket.NewHub(r.rooms, websocket.Config{
		UpdateRate:     cfg.UpdateRate,
		UpdateBurst:    cfg.UpdateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.Named("ws"))
	r.rooms.SetPublisher(r.hub)

	r.service = service.NewRelayService(r.rooms, rulesManager, store)
	return r, nil
}

// openStatsStore picks Redis when an address is set, else the file store
// under the data directory, else no stats.
func openStatsStore(ctx context.Context, cfg relayConfig, logger *zap.Logger) (stats.Store, error) {
	switch {
	case cfg.Redis.Addr != "":
		store, err := stats.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("stats store: redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		return store, nil
	case cfg.DataDir != "":
		store, err := stats.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create stats store: %w", err)
		}
		logger.Info("stats store: files", zap.String("dir", cfg.DataDir))
		return store, nil
	default:
		logger.Info("stats store disabled")
		return nil, nil
	}
}

func (r *relay) matchEnded(res *match.Result) {
	r.logger.Info("match ended",
		zap.String("room", res.RoomCode),
		zap.String("match", res.MatchID),
		zap.String("reason", string(res.Reason)),
		zap.String("winner", res.WinnerID),
		zap.Duration("duration", res.Duration()))
	if r.recorder != nil {
		r.recorder.Record(res)
	}
}

// start launches the background loops; they stop when ctx is cancelled.
func (r *relay) start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.rooms.Run(ctx, sweepInterval)
	}()

	if r.recorder != nil {
		recCtx, stop := context.WithCancel(context.Background())
		r.stopRecorder = stop
		r.recorderDone = make(chan struct{})
		go func() {
			defer close(r.recorderDone)
			r.recorder.Run(recCtx)
		}()
	}

	if rs, ok := r.store.(*stats.RedisStore); ok {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			watchMatchFeed(ctx, rs, r.logger)
		}()
	}
}

// close disconnects every player, ends the remaining matches, drains the
// recorder and releases the stats store. The ctx given to start must
// already be cancelled.
func (r *relay) close() {
	r.hub.Close()
	r.rooms.Close()
	r.wg.Wait()
	if r.stopRecorder != nil {
		r.stopRecorder()
		<-r.recorderDone
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("failed to close stats store", zap.Error(err))
		}
	}
}

// watchMatchFeed logs matches archived by any relay sharing the Redis
// instance.
func watchMatchFeed(ctx context.Context, rs *stats.RedisStore, logger *zap.Logger) {
	sub := rs.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var res match.Result
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				logger.Warn("bad match feed payload", zap.Error(err))
				continue
			}
			logger.Debug("match archived",
				zap.String("match", res.MatchID),
				zap.String("room", res.RoomCode),
				zap.Int("players", len(res.Players)))
		}
	}
}

// handler combines the REST API, WebSocket relay and an /mcp proxy endpoint.
func (r *relay) handler(baseURL string) http.Handler {
	apiServer := api.NewServer(r.service, r.hub, r.logger.Named("api"))
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer req.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(req.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// runServe starts the HTTP server. If ngrok is enabled it also provisions a
// public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(cmd)
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logEnv(cmd, logger)
	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version), zap.String("mode", "serve"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}
	r.start(ctx)

	addr := cfg.addr()
	mainRouter := r.handler("http://" + addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("ws", "ws://"+addr+"/ws"),
			zap.String("api", "http://"+addr+"/api"),
			zap.String("mcp", "http://"+addr+"/mcp"))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.Ngrok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, mainRouter, logger)
		}()
	}

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
		stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(shutdownErr))
	}
	r.close()

	wg.Wait()
	logger.Info("server stopped")
	return err
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg relayConfig, handler http.Handler, logger *zap.Logger) {
	if cfg.NgrokAuth == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return
	}

	logger.Info("starting ngrok tunnel")

	// Configure ngrok endpoint
	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
		logger.Info("using custom ngrok domain", zap.String("domain", cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuth))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("api", ngrokURL+"/api"),
		zap.String("mcp", ngrokURL+"/mcp"))

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It tries to reuse an API already
// listening on the configured address; if unavailable, it starts an internal
// HTTP API on a random loopback port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(cmd)

	// stdout carries the MCP protocol; logs go to stderr.
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	externalURL := "http://" + cfg.addr()
	baseURL := externalURL
	logger.Info("checking for external API server", zap.String("url", externalURL))

	if !apiAvailable(externalURL) {
		logger.Info("no external API server found, starting internal HTTP server")

		r, err := newRelay(ctx, cfg, logger)
		if err != nil {
			return err
		}
		r.start(ctx)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		httpServer := &http.Server{Handler: r.handler(baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("internal HTTP server error", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			httpServer.Close()
			r.close()
		}()
	}

	logger.Info("MCP stdio server ready", zap.String("api", baseURL))

	mcpClient := mcp.NewClient(baseURL)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// apiAvailable reports whether a relay API answers at baseURL.
func apiAvailable(baseURL string) bool {
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func logEnv(cmd *cli.Command, logger *zap.Logger) {
	root := cmd.Root()
	if loaded, _ := root.Metadata["envLoaded"].(bool); loaded {
		logger.Info("loaded environment variables from .env file")
	}
}
