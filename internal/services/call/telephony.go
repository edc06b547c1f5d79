package call

import (
	"context"
	"errors"
	"time"
)

// Endpoint is the media leg of an answered call.
type Endpoint interface {
	UUID() string
	// Play blocks until the clip finishes, is broken, or ctx ends.
	Play(ctx context.Context, url string) error
	// Break stops whatever is currently playing.
	Break(ctx context.Context) error
	EnableDTMF(ctx context.Context) error
	OnDTMF(fn func(digit string)) (remove func())
	ForkAudioStart(ctx context.Context, opts ForkOptions) error
	ForkAudioStop(ctx context.Context) error
}

// ForkOptions describes where the call audio is streamed.
type ForkOptions struct {
	URL      string
	MixType  string
	Sampling string
}

// Dialog is the signalling leg of an answered call.
type Dialog interface {
	// OnDestroy registers fn to run when the far end hangs up.
	OnDestroy(fn func()) (remove func())
	Destroy(ctx context.Context) error
}

// AudioForkServer accepts forked audio streams and hands out a capture
// session per call.
type AudioForkServer interface {
	ExpectSession(callID string, timeout time.Duration) (<-chan SessionResult, error)
	CancelExpectation(callID string)
}

// SessionResult is delivered once the fork for a call connects or fails.
type SessionResult struct {
	Session CaptureSession
	Err     error
}

// CaptureSession segments forked audio into utterances.
type CaptureSession interface {
	SetCaptureEnabled(enabled bool)
	WaitForUtterance(ctx context.Context, timeout time.Duration) (*Utterance, error)
	// ForceFinalize ends the current utterance immediately.
	ForceFinalize()
}

// ErrCaptureClosed is returned by WaitForUtterance once the audio stream
// behind a capture session is gone for good.
var ErrCaptureClosed = errors.New("capture session closed")

// Why an utterance ended.
const (
	ReasonSilence   = "silence-timeout"
	ReasonForced    = "forced-by-dtmf"
	ReasonMaxLength = "max-length"
)

// Utterance is one captured span of caller speech.
type Utterance struct {
	Audio  []byte
	Reason string
}

// Transcriber turns caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer renders text to a playable URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
}

// InboundCall is a ringing call offered by the telephony edge.
type InboundCall interface {
	CallerID() string
	DialedExtension() string
	Answer(ctx context.Context) (Endpoint, Dialog, error)
	Reject(ctx context.Context, status int) error
}
