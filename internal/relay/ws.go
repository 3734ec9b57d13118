package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
)

// ClientConfig is the first text frame the browser sends on /stt.
type ClientConfig struct {
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
	Model      string `json:"model"`
}

// wireEvent is the JSON shape pushed to the browser.
type wireEvent struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at,omitempty"`
}

// ReadClientConfig reads and validates the browser's opening frame.
func ReadClientConfig(ctx context.Context, c *websocket.Conn) (ClientConfig, error) {
	typ, data, err := c.Read(ctx)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("relay: read config frame: %w", err)
	}
	if typ != websocket.MessageText {
		return ClientConfig{}, fmt.Errorf("relay: first frame must be a text config, got %v", typ)
	}
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("relay: parse config frame: %w", err)
	}
	if cfg.SampleRate != 0 && cfg.SampleRate != 16000 {
		return ClientConfig{}, fmt.Errorf("relay: unsupported sample rate %d", cfg.SampleRate)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return cfg, nil
}

// ServeConn drives one accepted /stt connection: it forwards the client's
// binary PCM frames to r and pushes r's events back as JSON. It returns
// when either side closes or r's provider fails permanently.
//
// The caller owns the websocket accept and close handshake; ServeConn only
// reads and writes frames.
func ServeConn(ctx context.Context, c *websocket.Conn, r *Relay, onEvent func(Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	audio := make(chan []byte, 32)

	g, ctx := errgroup.WithContext(ctx)

	// Browser -> provider.
	g.Go(func() error {
		defer close(audio)
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				// Normal closure ends the stream without error.
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
					return nil
				}
				return nil
			}
			if typ != websocket.MessageBinary {
				continue
			}
			select {
			case audio <- data:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Provider -> browser.
	g.Go(func() error {
		for ev := range r.Events() {
			if onEvent != nil {
				onEvent(ev)
			}
			msg := wireEvent{Type: string(ev.Type), Text: ev.Text, At: ev.At}
			body, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("relay: marshal event: %w", err)
			}
			if err := c.Write(ctx, websocket.MessageText, body); err != nil {
				// Browser already gone; keep consuming so Run can finish.
				cancel()
			}
			if ev.Type == EventEnded {
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		// A provider failure already surfaced as the Ended event; the
		// connection should not error because of it.
		_ = r.Run(ctx, audio)
		return nil
	})

	return g.Wait()
}

// StreamConfigFor maps the client frame plus the service defaults onto the
// provider stream parameters.
func StreamConfigFor(cfg ClientConfig, endpointingMs, utteranceEndMs int) stt.StreamConfig {
	return stt.StreamConfig{
		Language:       cfg.Language,
		Model:          cfg.Model,
		SampleRate:     16000,
		Channels:       1,
		EndpointingMs:  endpointingMs,
		UtteranceEndMs: utteranceEndMs,
		InterimResults: true,
		Diarize:        true,
	}
}
