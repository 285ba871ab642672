package engine

import (
	"context"

	"stride/engine/internal/peer"
	"stride/engine/internal/thermal"
	"stride/engine/models"
)

// TelemetryHandler receives pushed sensor data. Callbacks may fire on any
// goroutine; the engine marshals them onto the session executor.
type TelemetryHandler struct {
	OnSample func(models.SensorSample)
	OnMotion func(models.MotionSample)
}

// TelemetrySource is the sensor provider collaborator.
type TelemetrySource interface {
	// RequestAuthorization must succeed before a session can start.
	RequestAuthorization(ctx context.Context) error
	// BeginSession starts sensor collection and registers the handler.
	BeginSession(ctx context.Context, indoor bool, h TelemetryHandler) error
	// EndSession stops collection and returns the platform workout id.
	EndSession(ctx context.Context) (workoutID string, err error)
}

// PeerTransport is the raw device channel consumed by the peer bridge.
type PeerTransport = peer.Transport

// CoachingSink routes voice and haptic cues to the athlete.
type CoachingSink interface {
	Speak(text string)
	Haptic(kind models.HapticKind)
}

// DisplayPublisher receives widget/complication snapshots.
type DisplayPublisher interface {
	Publish(state models.WidgetState)
}

// IntentRelay is the FIFO of pending external actions drained at tick start.
type IntentRelay interface {
	Drain() []models.Intent
}

// ThermalSource re-exports the thermal observation contract so embedders can
// inject a platform-specific reader.
type ThermalSource = thermal.Source
