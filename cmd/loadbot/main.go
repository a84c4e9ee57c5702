// Command loadbot drives a running relay with simulated players. It creates a
// room over the REST API (or joins an existing one), connects each bot over
// the WebSocket relay, starts the match as host and then streams movement
// updates and shots until the duration elapses or the match ends. It prints a
// per-message-type summary of what was sent and received.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/service"
	"github.com/wricardo/militia-relay/logging"
)

// Report counts frames per message type.
type Report struct {
	mu       sync.Mutex
	Sent     map[string]int
	Received map[string]int
}

func newReport() *Report {
	return &Report{Sent: make(map[string]int), Received: make(map[string]int)}
}

func (r *Report) sent(typ string) {
	r.mu.Lock()
	r.Sent[typ]++
	r.mu.Unlock()
}

func (r *Report) count(typ string) {
	r.mu.Lock()
	r.Received[typ]++
	r.mu.Unlock()
}

// ReceivedCount returns the received count for typ.
func (r *Report) ReceivedCount(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Received[typ]
}

func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	write := func(title string, counts map[string]int) {
		fmt.Fprintf(&sb, "%s:\n", title)
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %-14s %d\n", k, counts[k])
		}
	}
	write("Sent", r.Sent)
	write("Received", r.Received)
	return sb.String()
}

// createRoom asks the relay's REST API for a new room hosted by hostID.
func createRoom(ctx context.Context, baseURL, hostID, rules string) (*service.RoomInfo, error) {
	body, err := json.Marshal(service.CreateRoomRequest{HostID: hostID, Rules: rules})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimSuffix(baseURL, "/")+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("create room: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("create room: API error: %d", resp.StatusCode)
	}

	var info service.RoomInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &info, nil
}

// options configure one load run.
type options struct {
	BaseURL    string
	RoomCode   string
	Rules      string
	Bots       int
	Duration   time.Duration
	UpdateRate float64
	FireEvery  time.Duration
	Seed       int64
}

// run executes one load run and returns what the bots saw.
func run(ctx context.Context, opts options, logger *zap.Logger) (*Report, error) {
	endpoint, err := wsURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	prefix := "bot-" + uuid.NewString()[:8]
	host := ""
	roomCode := opts.RoomCode
	if roomCode == "" {
		host = prefix + "-0"
		info, err := createRoom(ctx, opts.BaseURL, host, opts.Rules)
		if err != nil {
			return nil, err
		}
		roomCode = info.RoomCode
		logger.Info("room created", zap.String("room", roomCode), zap.String("rules", info.Rules), zap.Int("maxPlayers", info.MaxPlayers))
	}

	report := newReport()
	var bots []*Bot
	defer func() {
		for _, b := range bots {
			b.Leave()
		}
	}()
	for i := 0; i < opts.Bots; i++ {
		b, err := dialBot(ctx, endpoint, roomCode, fmt.Sprintf("%s-%d", prefix, i), report, logger)
		if err != nil {
			return report, err
		}
		b.fireEvery = opts.FireEvery
		bots = append(bots, b)
	}
	logger.Info("bots joined", zap.String("room", roomCode), zap.Int("bots", len(bots)))

	if host != "" {
		if err := bots[0].Start(); err != nil {
			return report, fmt.Errorf("start match: %w", err)
		}
		report.sent("start")
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i, b := range bots {
		wg.Add(1)
		go func(b *Bot, seed int64) {
			defer wg.Done()
			b.Run(runCtx, opts.UpdateRate, rand.New(rand.NewSource(seed)))
		}(b, opts.Seed+int64(i))
	}
	wg.Wait()

	return report, nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "loadbot",
		Usage: "Drive a relay with simulated players",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Relay base URL", Sources: cli.EnvVars("RELAY_URL")},
			&cli.StringFlag{Name: "room", Usage: "Join an existing room instead of creating one"},
			&cli.StringFlag{Name: "rules", Value: "deathmatch", Usage: "Rules preset for created rooms"},
			&cli.IntFlag{Name: "bots", Value: 4, Usage: "Number of bots"},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Second, Usage: "How long to play"},
			&cli.FloatFlag{Name: "rate", Value: 15, Usage: "Updates per second per bot"},
			&cli.DurationFlag{Name: "fire-every", Value: time.Second, Usage: "Delay between shots (0 disables firing)"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "Random seed for shot angles"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := logging.New(cmd.Bool("debug"))
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := options{
				BaseURL:    cmd.String("url"),
				RoomCode:   strings.ToUpper(cmd.String("room")),
				Rules:      cmd.String("rules"),
				Bots:       cmd.Int("bots"),
				Duration:   cmd.Duration("duration"),
				UpdateRate: cmd.Float("rate"),
				FireEvery:  cmd.Duration("fire-every"),
				Seed:       cmd.Int64("seed"),
			}
			if opts.Bots < 1 || opts.UpdateRate <= 0 {
				return fmt.Errorf("need at least one bot and a positive rate")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := run(ctx, opts, logger)
			if report != nil {
				fmt.Print(report)
			}
			return err
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
