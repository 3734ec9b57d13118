// Package ttscache synthesizes question audio once and reuses it. Entries
// are keyed by content (text, voice, language), written through the
// artifact store, and expire after a day; concurrent misses for the same
// key are coalesced into one provider call.
package ttscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/pcm"
	"github.com/hireloop-ai/hireloop/pkg/provider/tts"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

const (
	defaultTTL = 24 * time.Hour

	// cacheDir is where synthesized clips live under the storage root.
	cacheDir = "tts"

	// sampleRate matches what every TTS provider emits.
	sampleRate = 16000
)

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// entry is one cached clip.
type entry struct {
	ref     string
	addedAt time.Time
}

// Cache fronts a TTS provider with a content-addressed audio cache.
type Cache struct {
	provider tts.Provider
	store    *storage.Store
	clk      clock.Clock
	ttl      time.Duration

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
}

// New builds a Cache writing clips under store.
func New(provider tts.Provider, store *storage.Store, clk clock.Clock, opts ...Option) *Cache {
	c := &Cache{
		provider: provider,
		store:    store,
		clk:      clk,
		ttl:      defaultTTL,
		entries:  map[string]entry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the cache key for one utterance.
func Key(text string, voice types.VoiceProfile) string {
	sum := sha256.Sum256([]byte(text + "|" + voice.ID + "|" + voice.Language))
	return hex.EncodeToString(sum[:])
}

// Synthesize returns the storage-relative ref of the clip for text, calling
// the provider only on a cold or expired key. The caller bounds the
// provider call through ctx.
func (c *Cache) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (string, error) {
	key := Key(text, voice)

	if ref, ok := c.lookup(key); ok {
		return ref, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing caller may have filled the entry while we queued.
		if ref, ok := c.lookup(key); ok {
			return ref, nil
		}

		audio, err := c.provider.Synthesize(ctx, text, voice)
		if err != nil {
			return "", fmt.Errorf("ttscache: synthesize: %w", err)
		}

		ref := path.Join(cacheDir, key+".wav")
		wav, err := pcm.EncodeWAV(audio, sampleRate)
		if err != nil {
			return "", fmt.Errorf("ttscache: encode wav: %w", err)
		}
		if _, err := c.store.Write(ref, wav); err != nil && !errors.Is(err, storage.ErrExists) {
			// Same key means same content; an existing file is a refresh
			// after expiry, not a conflict.
			return "", fmt.Errorf("ttscache: store clip: %w", err)
		}

		c.mu.Lock()
		c.entries[key] = entry{ref: ref, addedAt: c.clk.Now()}
		c.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// lookup returns a fresh entry's ref, evicting the entry when expired.
func (c *Cache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clk.Since(e.addedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.ref, true
}

// EvictExpired sweeps expired entries and removes their files.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	var victims []entry
	for key, e := range c.entries {
		if c.clk.Since(e.addedAt) > c.ttl {
			victims = append(victims, e)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, e := range victims {
		if err := c.store.Remove(e.ref); err != nil {
			slog.Warn("ttscache: evict failed", "ref", e.ref, "err", err)
		}
	}
	return len(victims)
}

// Start sweeps expired entries at interval until ctx is done.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.EvictExpired(); n > 0 {
					slog.Debug("ttscache: swept entries", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Len counts live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
