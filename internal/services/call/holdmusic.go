package call

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	holdRestartGap = 10 * time.Millisecond
	holdStopWait   = 2 * time.Second
	holdBreakWait  = 2 * time.Second
	holdStartWait  = 100 * time.Millisecond
)

// holdMusic loops a clip on an endpoint until stopped.
type holdMusic struct {
	endpoint Endpoint
	callID   string
	started  bool
	cancel   context.CancelFunc
	playing  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startHoldMusic(parent context.Context, ep Endpoint, url, callID string) *holdMusic {
	h := &holdMusic{endpoint: ep, callID: callID, cancel: func() {}, done: make(chan struct{})}
	if url == "" || parent.Err() != nil {
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel
	h.started = true
	h.playing = make(chan struct{})
	go h.loop(ctx, url)

	// The first clip is issued before the caller goes on to the query.
	select {
	case <-h.playing:
	case <-time.After(holdStartWait):
	}
	return h
}

func (h *holdMusic) loop(ctx context.Context, url string) {
	defer close(h.done)
	first := true
	for {
		if first {
			first = false
			close(h.playing)
		}
		err := h.endpoint.Play(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Base().Warn("hold music error", zap.String("call_id", h.callID), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(holdRestartGap):
		}
	}
}

// Stop cancels the loop before breaking the current clip, so the loop
// cannot restart it, then waits for the loop to exit.
func (h *holdMusic) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		if !h.started {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), holdBreakWait)
		defer cancel()
		if err := h.endpoint.Break(ctx); err != nil {
			logger.Base().Debug("hold music break failed", zap.String("call_id", h.callID), zap.Error(err))
		}

		select {
		case <-h.done:
		case <-time.After(holdStopWait):
			logger.Base().Warn("hold music loop did not stop in time", zap.String("call_id", h.callID))
		}
	})
}
