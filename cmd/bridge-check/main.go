// bridge-check checks that the configured agent bridge is reachable and,
// optionally, sends it one prompt. The prompt can come from a raw 16kHz PCM
// recording, and the reply can be rendered to audio, which exercises the
// same speech path a call takes. It reads the same environment as the voice
// app.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/bridge"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	"github.com/ClareAI/astra-sip-bridge/internal/speech"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	prompt := flag.String("prompt", "", "prompt to send after the health check")
	accountID := flag.String("account", "", "accountId to send with the prompt")
	timeout := flag.Duration("timeout", bridge.DefaultQueryTimeout, "query timeout")
	audioPath := flag.String("audio", "", "raw 16-bit mono 16kHz PCM file to transcribe into the prompt")
	speak := flag.Bool("speak", false, "render the reply to audio and print its URL")
	voiceID := flag.String("voice", "", "voice id used with -speak")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped: %v", err)
	}
	if _, err := logger.Init(logger.OptionsFromEnv()); err != nil {
		log.Printf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = logger.Base().Sync() }()

	cfg := config.LoadVoiceConfig()
	br, err := bridge.Load(bridge.LoadOptions{
		Type:          cfg.BridgeType,
		AgentAPIURL:   cfg.AgentAPIURL,
		WebhookURL:    cfg.WebhookURL,
		WebhookAPIKey: cfg.WebhookAPIKey,
	})
	if err != nil {
		logger.Base().Fatal("failed to load bridge", zap.Error(err))
	}

	ctx := context.Background()

	var (
		stt   *speech.WhisperTranscriber
		synth *speech.FileSynthesizer
	)
	if *audioPath != "" || *speak {
		stt, synth, err = speech.New(cfg)
		if err != nil {
			logger.Base().Fatal("failed to set up speech", zap.Error(err))
		}
	}
	if *audioPath != "" {
		pcm, err := os.ReadFile(*audioPath)
		if err != nil {
			logger.Base().Fatal("failed to read audio", zap.Error(err))
		}
		text, err := stt.Transcribe(ctx, pcm)
		if err != nil {
			logger.Base().Fatal("transcription failed", zap.Error(err))
		}
		logger.Base().Info("transcribed", zap.String("text", text))
		*prompt = text
	}

	available := br.IsAvailable(ctx, bridge.DefaultAvailableTimeout)
	logger.Base().Info("bridge health", zap.String("type", cfg.BridgeType), zap.Bool("available", available))
	if !available {
		os.Exit(1)
	}
	if *prompt == "" {
		return
	}

	callID := "check-" + uuid.NewString()
	start := time.Now()
	resp, err := br.Query(ctx, *prompt, bridge.QueryOptions{CallID: callID, AccountID: *accountID, Timeout: *timeout})
	br.EndSession(ctx, callID)
	if err != nil {
		logger.Base().Fatal("query canceled", zap.Error(err))
	}

	logger.Base().Info("query finished",
		zap.Bool("is_error", resp.IsError),
		zap.Duration("latency", time.Since(start)))
	fmt.Println(resp.Text)
	if resp.IsError {
		os.Exit(2)
	}

	if *speak {
		url, err := synth.Synthesize(ctx, call.ExtractVoiceLine(resp.Text), *voiceID)
		if err != nil {
			logger.Base().Fatal("speech synthesis failed", zap.Error(err))
		}
		fmt.Println(url)
	}
}
