package audiofork

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed    = fmt.Errorf("audio fork: %w", call.ErrCaptureClosed)
	ErrUtteranceTimeout = errors.New("no utterance before timeout")
)

// session segments one call's forked audio. Frames that arrive while
// capture is disabled are dropped, and capture switches itself off once an
// utterance is complete.
type session struct {
	callID string
	cfg    Config
	conn   *websocket.Conn

	mu       sync.Mutex
	enabled  bool
	speaking bool
	buf      []byte
	silence  time.Duration
	length   time.Duration

	utterances chan *call.Utterance
	done       chan struct{}
	closeOnce  sync.Once
}

var _ call.CaptureSession = (*session)(nil)

func newSession(callID string, conn *websocket.Conn, cfg Config) *session {
	return &session{
		callID:     callID,
		cfg:        cfg,
		conn:       conn,
		utterances: make(chan *call.Utterance, 1),
		done:       make(chan struct{}),
	}
}

func (s *session) SetCaptureEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	s.resetLocked()
	if enabled {
		select {
		case <-s.utterances:
		default:
		}
	}
}

func (s *session) WaitForUtterance(ctx context.Context, timeout time.Duration) (*call.Utterance, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case u := <-s.utterances:
		return u, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-timer.C:
		return nil, ErrUtteranceTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) ForceFinalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		s.finalizeLocked(call.ReasonForced)
	}
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) readLoop() {
	defer s.Close()
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Base().Debug("audio fork read ended", zap.String("call_id", s.callID), zap.Error(err))
			}
			return
		}
		// Text frames carry fork metadata, which is not needed.
		if messageType == websocket.BinaryMessage {
			s.feed(data)
		}
	}
}

func (s *session) feed(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || len(frame) < 2 {
		return
	}
	loud := rms(frame) >= s.cfg.SpeechThreshold
	if !s.speaking {
		if !loud {
			return
		}
		s.speaking = true
	}

	d := frameDuration(len(frame), s.cfg.SampleRate)
	s.buf = append(s.buf, frame...)
	s.length += d
	if loud {
		s.silence = 0
	} else {
		s.silence += d
	}

	switch {
	case s.silence >= s.cfg.SilenceDuration:
		s.finalizeLocked(call.ReasonSilence)
	case s.length >= s.cfg.MaxUtterance:
		s.finalizeLocked(call.ReasonMaxLength)
	}
}

func (s *session) finalizeLocked(reason string) {
	if len(s.buf) == 0 {
		return
	}
	u := &call.Utterance{Audio: s.buf, Reason: reason}
	s.enabled = false
	s.resetLocked()

	select {
	case s.utterances <- u:
	default:
	}
}

func (s *session) resetLocked() {
	s.speaking = false
	s.buf = nil
	s.silence = 0
	s.length = 0
}

func frameDuration(n, sampleRate int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

// rms is the root mean square of 16-bit little-endian samples.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
