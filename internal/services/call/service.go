package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/bridge"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/outbound"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// StatusTemporarilyUnavailable is the SIP status sent when the agent is down.
const StatusTemporarilyUnavailable = 480

// Direction of a tracked call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ActiveCall describes a call currently held by the service.
type ActiveCall struct {
	CallID    string
	Device    string
	Direction Direction
	StartedAt time.Time
}

// OutboundRequest is an answered outbound leg waiting for its script.
type OutboundRequest struct {
	Device  string
	Message string
	Mode    outbound.Mode
	PeerID  string
}

// Service answers calls, screens them and runs a Conversation per call.
type Service struct {
	cfg         *config.VoiceConfig
	devices     *config.DeviceRegistry
	bridge      bridge.Bridge
	forkServer  AudioForkServer
	transcriber Transcriber
	synthesizer Synthesizer

	calls map[string]ActiveCall
	mutex sync.RWMutex
}

// NewService creates the call service.
func NewService(cfg *config.VoiceConfig, devices *config.DeviceRegistry, br bridge.Bridge, fork AudioForkServer, stt Transcriber, tts Synthesizer) *Service {
	if devices == nil {
		devices = config.NewDeviceRegistry(nil)
	}
	return &Service{
		cfg:         cfg,
		devices:     devices,
		bridge:      br,
		forkServer:  fork,
		transcriber: stt,
		synthesizer: tts,
		calls:       make(map[string]ActiveCall),
	}
}

// HandleInbound screens, answers and converses with a ringing call.
func (s *Service) HandleInbound(ctx context.Context, call InboundCall) (Outcome, error) {
	peerID := call.CallerID()
	extension := call.DialedExtension()

	device, ok := s.devices.Get(extension)
	if !ok {
		device = s.devices.Default()
		logger.Base().Info("no device for extension, using default",
			zap.String("extension", extension), zap.String("device", device.Name))
	}

	if !CheckAllowFrom(device, peerID) {
		logger.Base().Info("🚫 call rejected: caller not on allow-list", zap.String("extension", extension))
		logger.Base().Debug("rejected caller", zap.String("peer_id", peerID))
		return OutcomeRejected, s.answerAndDrop(ctx, call)
	}

	if s.cfg.CheckAvailable {
		if !s.bridge.IsAvailable(ctx, bridge.DefaultAvailableTimeout) {
			logger.Base().Warn("agent unavailable, rejecting call", zap.String("extension", extension))
			if err := call.Reject(ctx, StatusTemporarilyUnavailable); err != nil {
				return OutcomeUnavailable, fmt.Errorf("reject call: %w", err)
			}
			return OutcomeUnavailable, nil
		}
	}

	ep, dlg, err := call.Answer(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("answer call: %w", err)
	}

	conv := NewConversation(ep, dlg, ep.UUID(), s.conversationOptions(device, peerID))
	return s.track(ctx, ep.UUID(), device, DirectionInbound, conv, dlg), nil
}

// HandleOutbound runs the script for an answered outbound call. Announce
// mode speaks the message and hangs up; conversation mode speaks it, primes
// the agent with it, and then converses.
func (s *Service) HandleOutbound(ctx context.Context, ep Endpoint, dlg Dialog, req OutboundRequest) (Outcome, error) {
	device, ok := s.devices.Get(req.Device)
	if !ok {
		device = s.devices.Default()
	}
	callID := ep.UUID()

	if req.Mode != outbound.ModeConversation {
		opts := s.conversationOptions(device, req.PeerID)
		opts.SkipGreeting = true
		conv := NewConversation(ep, dlg, callID, opts)
		conv.ctx, conv.cancel = context.WithCancel(ctx)
		defer conv.cancel()
		remove := dlg.OnDestroy(conv.onHangup)
		defer remove()
		if err := conv.say(req.Message); err != nil {
			logger.Base().Warn("announcement failed", zap.String("call_id", callID), zap.Error(err))
		}
		s.destroy(dlg, callID)
		return OutcomeAnnounced, nil
	}

	opts := s.conversationOptions(device, req.PeerID)
	opts.DynamicGreeting = false
	opts.Prompts.Greeting = req.Message
	opts.InitialContext = req.Message
	conv := NewConversation(ep, dlg, callID, opts)
	return s.track(ctx, callID, device, DirectionOutbound, conv, dlg), nil
}

func (s *Service) track(ctx context.Context, callID string, device *config.Device, dir Direction, conv *Conversation, dlg Dialog) Outcome {
	s.mutex.Lock()
	s.calls[callID] = ActiveCall{CallID: callID, Device: device.Name, Direction: dir, StartedAt: time.Now()}
	s.mutex.Unlock()

	defer func() {
		s.mutex.Lock()
		delete(s.calls, callID)
		s.mutex.Unlock()
	}()

	outcome := conv.Run(ctx)
	if outcome != OutcomeHangup {
		s.destroy(dlg, callID)
	}
	return outcome
}

func (s *Service) conversationOptions(device *config.Device, peerID string) Options {
	return Options{
		Bridge:           s.bridge,
		ForkServer:       s.forkServer,
		Transcriber:      s.transcriber,
		Synthesizer:      s.synthesizer,
		Prompts:          PromptsFromConfig(s.cfg),
		ForkURLBase:      s.cfg.ForkURLBase,
		Device:           device,
		PeerID:           peerID,
		DynamicGreeting:  s.cfg.DynamicGreeting,
		MaxTurns:         s.cfg.MaxTurns,
		UtteranceTimeout: s.cfg.UtteranceTimeout,
		ForkTimeout:      s.cfg.ForkTimeout,
	}
}

func (s *Service) answerAndDrop(ctx context.Context, call InboundCall) error {
	_, dlg, err := call.Answer(ctx)
	if err != nil {
		return fmt.Errorf("answer call: %w", err)
	}
	if err := dlg.Destroy(ctx); err != nil {
		return fmt.Errorf("end rejected call: %w", err)
	}
	return nil
}

func (s *Service) destroy(dlg Dialog, callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := dlg.Destroy(ctx); err != nil {
		logger.Base().Warn("failed to end call", zap.String("call_id", callID), zap.Error(err))
	}
}

// ActiveCallCount returns how many calls are in progress.
func (s *Service) ActiveCallCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.calls)
}

// ActiveCalls returns a snapshot of the calls in progress.
func (s *Service) ActiveCalls() []ActiveCall {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]ActiveCall, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	return out
}
