package whatsapp

import (
	"errors"

	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

var (
	// ErrNotConnected is returned for operations on an instance without a live adapter.
	ErrNotConnected = errors.New("whatsapp: instance not connected")
	// ErrUnsupportedByProvider is wrapped with the missing capability name.
	ErrUnsupportedByProvider = errors.New("unsupported by provider")
	ErrUnknownProvider       = provider.ErrUnknownProvider
	ErrInstanceNotFound      = errors.New("whatsapp: instance not found")
	ErrStopped               = errors.New("whatsapp: service stopped")
)
