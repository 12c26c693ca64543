package app

import (
	"strconv"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/audio"
	"github.com/ent0n29/rhodes-client/internal/config"
	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/voice"
)

// voiceSetup is the resolved set of voice backends.
type voiceSetup struct {
	recognizer voice.Capture
	recorder   voice.Capture
	speaker    voice.Speaker
	checker    voice.CompletenessChecker
	detail     string
}

type voiceDeps struct {
	source  audio.Source
	sink    audio.Sink
	metrics *observability.Metrics
}

func resolveVoice(cfg config.Config, deps voiceDeps) voiceSetup {
	services := voice.NewHTTPServices(cfg.HTTPBaseURL, cfg.TTSTimeout)

	var eleven *voice.ElevenLabsProvider
	if cfg.STTProvider == "elevenlabs" || cfg.TTSProvider == "elevenlabs" {
		eleven = voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			STTModelID:   cfg.ElevenLabsSTTModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
	}

	setup := voiceSetup{checker: services}

	recorder := voice.NewRecorder(deps.source, services, voice.SilenceConfig{
		Threshold: cfg.SilenceThreshold,
		PeakRatio: cfg.SilencePeakRatio,
		Duration:  cfg.SilenceDuration,
		Grace:     cfg.SilenceGrace,
		Ceiling:   cfg.RecordCeiling,
	}, cfg.SampleRate)
	recorder.Metrics = deps.metrics
	setup.recorder = recorder

	var stt voice.STTProvider
	switch cfg.STTProvider {
	case "elevenlabs":
		stt = eleven
	case "mock":
		stt = voice.NewMockProvider()
	}
	if stt != nil {
		recognizer := voice.NewRecognizer(stt, deps.source, cfg.SampleRate)
		// The machine picks the record backend for tutoring; failover covers
		// a recognizer that cannot connect.
		setup.recognizer = voice.NewFailoverCapture(recognizer, recorder)
	}

	var synth voice.Synthesizer = services
	switch cfg.TTSProvider {
	case "elevenlabs":
		synth = &voice.StreamSynthesizer{
			Provider:      eleven,
			VoiceID:       cfg.ElevenLabsTTSVoice,
			ModelID:       cfg.ElevenLabsTTSModel,
			PCMSampleRate: pcmRate(cfg.ElevenLabsTTSOutputFormat),
		}
	case "mock":
		synth = &voice.StreamSynthesizer{Provider: voice.NewMockProvider(), PCMSampleRate: cfg.SampleRate}
	}
	setup.speaker = &voice.SpeechPlayer{
		Synth:   synth,
		Sink:    deps.sink,
		Timeout: cfg.TTSTimeout,
		Metrics: deps.metrics,
	}
	setup.detail = "stt=" + cfg.STTProvider + " tts=" + cfg.TTSProvider
	return setup
}

// pcmRate returns the sample rate of a pcm_<rate> output format, or 0 for
// encoded formats such as mp3_44100_128.
func pcmRate(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return rate
}
