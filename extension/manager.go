package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExtensionManager loads extensions in registration order and shuts them
// down in reverse.
type ExtensionManager struct {
	mu         sync.Mutex
	extensions map[string]Extension
	loadOrder  []string
	loaded     []string // successfully loaded, in load order
}

// New creates an empty ExtensionManager.
func New() *ExtensionManager {
	return &ExtensionManager{
		extensions: make(map[string]Extension),
	}
}

// Register appends ext to the load order.
func (m *ExtensionManager) Register(ext Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ext.Name()
	if _, exists := m.extensions[name]; exists {
		return fmt.Errorf("%w: %s", ErrExtensionAlreadyRegistered, name)
	}
	m.extensions[name] = ext
	m.loadOrder = append(m.loadOrder, name)
	log.Debug().Str("extension", name).Msg("extension registered")
	return nil
}

// Get returns a registered extension by name.
func (m *ExtensionManager) Get(name string) (Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext, ok := m.extensions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	return ext, nil
}

// LoadAll loads every extension in order. When one fails, the ones loaded
// before it are shut down in reverse order and the load error is returned.
func (m *ExtensionManager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string(nil), m.loadOrder...)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.Lock()
		ext := m.extensions[name]
		m.mu.Unlock()

		start := time.Now()
		if err := ext.Load(ctx); err != nil {
			log.Error().Str("extension", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to load extension")
			if rbErr := m.ShutdownAll(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("errors occurred during load failure rollback")
			}
			return fmt.Errorf("failed to load extension %s: %w", name, err)
		}

		m.mu.Lock()
		m.loaded = append(m.loaded, name)
		m.mu.Unlock()
		log.Info().Str("extension", name).Dur("duration", time.Since(start)).Msg("extension loaded")
	}
	return nil
}

// ShutdownAll shuts down every loaded extension in reverse load order. It
// keeps going past failures and returns them joined.
func (m *ExtensionManager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.loaded = nil
	m.mu.Unlock()

	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		name := loaded[i]

		m.mu.Lock()
		ext := m.extensions[name]
		m.mu.Unlock()

		start := time.Now()
		if err := ext.Shutdown(ctx); err != nil {
			log.Error().Str("extension", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to shut down extension")
			errs = append(errs, fmt.Errorf("failed to shutdown extension %s: %w", name, err))
			continue
		}
		log.Info().Str("extension", name).Dur("duration", time.Since(start)).Msg("extension shut down")
	}
	return errors.Join(errs...)
}
