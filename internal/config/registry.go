package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]func(TTSConfig) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts: make(map[string]func(TTSConfig) (tts.Provider, error)),
	}
}

// RegisterTTS registers a TTS provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTTS instantiates a TTS provider using the factory registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// TTSProviders returns the registered TTS provider names, sorted.
func (r *Registry) TTSProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tts))
	for name := range r.tts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
