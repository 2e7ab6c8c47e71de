package jwt

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Option configures a RotationManager.
type Option interface {
	applyRotationManager(m *RotationManager)
}

type optionFunc func(m *RotationManager)

func (fn optionFunc) applyRotationManager(m *RotationManager) {
	fn(m)
}

// WithClock sets the clock used for issuing and validating JWTs. Defaults to the real clock.
func WithClock(clock clockwork.Clock) Option {
	return optionFunc(func(m *RotationManager) {
		m.clock = clock
	})
}

// WithWindow sets the validity of JWTs. Defaults to DefaultWindow.
func WithWindow(window time.Duration) Option {
	return optionFunc(func(m *RotationManager) {
		m.window = window
	})
}

// WithAttempts sets how many times regenerating the JWT of an application is attempted during a rotation.
func WithAttempts(attempts int) Option {
	return optionFunc(func(m *RotationManager) {
		m.attempts = attempts
	})
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(m *RotationManager) {
		m.logger = logger
	})
}
