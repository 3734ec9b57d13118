package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hireloop-ai/hireloop/pkg/provider/embeddings"
	embeddingsmock "github.com/hireloop-ai/hireloop/pkg/provider/embeddings/mock"
	embeddingsopenai "github.com/hireloop-ai/hireloop/pkg/provider/embeddings/openai"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm/anyllm"
	llmmock "github.com/hireloop-ai/hireloop/pkg/provider/llm/mock"
	llmopenai "github.com/hireloop-ai/hireloop/pkg/provider/llm/openai"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt/deepgram"
	sttmock "github.com/hireloop-ai/hireloop/pkg/provider/stt/mock"
	"github.com/hireloop-ai/hireloop/pkg/provider/tts"
	"github.com/hireloop-ai/hireloop/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/hireloop-ai/hireloop/pkg/provider/tts/mock"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
	visionmock "github.com/hireloop-ai/hireloop/pkg/provider/vision/mock"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision/onnx"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory exists under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors per provider kind.
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	vision     map[string]func(ProviderEntry) (vision.Detector, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:        map[string]func(ProviderEntry) (llm.Provider, error){},
		stt:        map[string]func(ProviderEntry) (stt.Provider, error){},
		tts:        map[string]func(ProviderEntry) (tts.Provider, error){},
		embeddings: map[string]func(ProviderEntry) (embeddings.Provider, error){},
		vision:     map[string]func(ProviderEntry) (vision.Detector, error){},
	}
}

// RegisterLLM registers an LLM factory under name; later registrations
// with the same name win.
func (r *Registry) RegisterLLM(name string, f func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterSTT registers an STT factory under name.
func (r *Registry) RegisterSTT(name string, f func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = f
}

// RegisterVision registers a detector factory under name.
func (r *Registry) RegisterVision(name string, f func(ProviderEntry) (vision.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = f
}

// CreateLLM instantiates the LLM provider selected by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateSTT instantiates the STT provider selected by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateTTS instantiates the TTS provider selected by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateEmbeddings instantiates the embeddings provider selected by
// entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	f, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateVision instantiates the detector selected by entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Detector, error) {
	r.mu.RLock()
	f, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// DefaultRegistry returns a Registry with every built-in implementation
// registered, mocks included.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("openai", func(e ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	for _, vendor := range []string{"anthropic", "gemini", "groq", "ollama"} {
		vendor := vendor
		r.RegisterLLM(vendor, func(e ProviderEntry) (llm.Provider, error) {
			return anyllm.New(vendor, e.Model)
		})
	}
	r.RegisterLLM("mock", func(ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	r.RegisterSTT("deepgram", func(e ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	r.RegisterSTT("mock", func(ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	r.RegisterTTS("elevenlabs", func(e ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	r.RegisterTTS("mock", func(ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	r.RegisterEmbeddings("openai", func(e ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(e.BaseURL))
		}
		return embeddingsopenai.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterEmbeddings("mock", func(ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{}, nil
	})

	r.RegisterVision("onnx", func(e ProviderEntry) (vision.Detector, error) {
		return onnx.New(e.Model)
	})
	r.RegisterVision("mock", func(ProviderEntry) (vision.Detector, error) {
		return &visionmock.Detector{}, nil
	})

	return r
}
