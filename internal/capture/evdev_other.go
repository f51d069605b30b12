//go:build !linux

package capture

import "context"

// EvdevSource is only implemented on Linux. Other platforms run with a
// script source or a future platform-specific backend.
type EvdevSource struct{}

func NewEvdevSource() *EvdevSource { return &EvdevSource{} }

func (s *EvdevSource) Available() (bool, string) {
	return false, "evdev capture requires Linux"
}

func (s *EvdevSource) Start(ctx context.Context, h Handler) error {
	return ErrNotAvailable
}

func (s *EvdevSource) Stop() error { return nil }
