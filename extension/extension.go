// Package extension runs the long-lived parts of the rate limit daemon
// (store connection, HTTP and gRPC servers) through an ordered
// load/shutdown lifecycle.
package extension

import (
	"context"
	"errors"
)

// Extension is one component with a lifecycle.
type Extension interface {
	// Name returns the unique name used for registration and logging.
	Name() string

	// Load starts the component. It must not block for the component's
	// whole lifetime; servers start serving in a goroutine.
	Load(ctx context.Context) error

	// Shutdown stops the component and releases its resources.
	Shutdown(ctx context.Context) error
}

var (
	ErrExtensionAlreadyRegistered = errors.New("extension name is already registered")
	ErrExtensionNotFound          = errors.New("extension not found")
)

// Func builds an Extension from plain functions. Nil functions are no-ops.
type Func struct {
	ID         string
	OnLoad     func(ctx context.Context) error
	OnShutdown func(ctx context.Context) error
}

func (f Func) Name() string { return f.ID }

func (f Func) Load(ctx context.Context) error {
	if f.OnLoad == nil {
		return nil
	}
	return f.OnLoad(ctx)
}

func (f Func) Shutdown(ctx context.Context) error {
	if f.OnShutdown == nil {
		return nil
	}
	return f.OnShutdown(ctx)
}
