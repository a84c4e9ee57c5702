package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/match"
)

// Recorder hands finished matches to a Store off the session goroutine.
type Recorder struct {
	store   Store
	queue   chan *match.Result
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecorder creates a recorder with a bounded queue.
func NewRecorder(store Store, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		queue:   make(chan *match.Result, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Record enqueues res without blocking. It matches the session OnEnd hook.
func (r *Recorder) Record(res *match.Result) {
	select {
	case r.queue <- res:
	default:
		r.logger.Warn("match recorder queue full, dropping result",
			zap.String("match", res.MatchID),
			zap.String("room", res.RoomCode))
	}
}

// Run writes queued results until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case res := <-r.queue:
			r.write(res)
		case <-ctx.Done():
			for {
				select {
				case res := <-r.queue:
					r.write(res)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(res *match.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.RecordMatch(ctx, res); err != nil {
		r.logger.Error("failed to record match",
			zap.String("match", res.MatchID),
			zap.String("room", res.RoomCode),
			zap.Error(err))
		return
	}
	r.logger.Info("match recorded",
		zap.String("match", res.MatchID),
		zap.String("room", res.RoomCode),
		zap.String("winner", res.WinnerID),
		zap.Int("players", len(res.Players)))
}
