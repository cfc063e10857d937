// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format. Only raw PCM formats
// ("pcm_16000", "pcm_22050", "pcm_24000", "pcm_44100", "pcm_48000") can be
// played back; [New] rejects anything else.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithBaseURLs overrides the WebSocket and REST API roots, e.g. to point the
// provider at a local test server.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimSuffix(wsBase, "/")
		p.httpBase = strings.TrimSuffix(httpBase, "/")
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	format       audio.Format
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	f, err := ParseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = f
	return p, nil
}

// ParseOutputFormat maps an ElevenLabs "pcm_<rate>" output format to the
// PCM it produces. ElevenLabs PCM is always 16-bit mono.
func ParseOutputFormat(format string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	hz, err := strconv.Atoi(rate)
	if err != nil || hz <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q has an invalid sample rate", format)
	}
	return audio.Format{SampleRate: hz, Channels: 1}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return p.format }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text fragments from
// the text channel, and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	// Authenticate and configure the stream.
	boi := boiMessage{
		Text: " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey: p.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			p.readAudio(ctx, conn, audioCh)
		}()
		defer func() {
			conn.Close(websocket.StatusNormalClosure, "done")
			<-readDone
			close(audioCh)
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					// Flush whatever is still buffered server-side.
					flushBytes, _ := buildWSMessage("", nil)
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					<-readDone
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				// ElevenLabs only generates once a fragment ends in a space.
				msgBytes, _ := buildWSMessage(fragment+" ", nil)
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					slog.Warn("elevenlabs: send text", "error", err)
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// readAudio forwards decoded audio until the server signals the final chunk.
func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Warn("elevenlabs: read", "error", err)
			}
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			slog.Warn("elevenlabs: synthesis failed", "error", resp.Error, "message", resp.Message)
			return
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return vr.profiles(), nil
}

// ---- helpers ----

func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.wsBase, url.PathEscape(voiceID), url.QueryEscape(p.model), url.QueryEscape(p.outputFormat))
}

// buildWSMessage constructs the JSON text payload for a single text fragment.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

func (vr voicesResponse) profiles() []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}
