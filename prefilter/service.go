// Package prefilter runs the on-device heuristics that screen location
// readings before a marker submission is attempted. It is deliberately
// stricter than the ledger's anticheat gate and shares no state with it.
package prefilter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/gpsrunner/geo"
)

// Activity is the motion class reported by the device's activity recognizer.
type Activity string

const (
	ActivityUnknown Activity = "unknown"
	ActivityStill   Activity = "still"
	ActivityWalking Activity = "walking"
	ActivityRunning Activity = "running"
	ActivityBicycle Activity = "bicycle"
	ActivityVehicle Activity = "vehicle"
)

// Config holds the device thresholds.
type Config struct {
	MaxSpeedMps         float64
	TeleportSpeedMps    float64
	MaxAccuracyMeters   float64
	MinCadence          float64 // steps per minute
	MovingSpeedMps      float64 // cadence is only checked above this
	WindowSize          int     // accepted readings kept for the teleport check
	MaxViolations       int     // violations that trigger a suspension
	SuspensionDuration  time.Duration
	ForbiddenActivities []Activity
}

// DefaultConfig returns the thresholds shipped with the client.
func DefaultConfig() Config {
	return Config{
		MaxSpeedMps:         8,
		TeleportSpeedMps:    15,
		MaxAccuracyMeters:   50,
		MinCadence:          30,
		MovingSpeedMps:      1,
		WindowSize:          5,
		MaxViolations:       3,
		SuspensionDuration:  15 * time.Minute,
		ForbiddenActivities: []Activity{ActivityVehicle, ActivityBicycle},
	}
}

// Reading is one device sample.
type Reading struct {
	Lat         float64 // degrees
	Lon         float64 // degrees
	Time        time.Time
	SpeedMps    float64
	Activity    Activity
	StepCadence float64 // steps per minute
	AccuracyM   float64
}

// Reasons a reading is refused.
var (
	ErrSuspended         = errors.New("anti-cheat suspension active")
	ErrAccuracyTooLow    = errors.New("gps accuracy too low")
	ErrForbiddenActivity = errors.New("forbidden activity")
	ErrSpeedTooHigh      = errors.New("speed too high")
	ErrCadenceTooLow     = errors.New("step cadence too low")
	ErrTeleport          = errors.New("teleport detected")
)

// Service keeps the sliding window of accepted readings and the violation
// counter for one device session. Safe for concurrent use.
type Service struct {
	cfg Config
	log *zap.Logger

	mu             sync.Mutex
	window         []Reading
	violations     int
	suspendedUntil time.Time
}

// NewService creates a Service. log may be nil.
func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 3
	}
	return &Service{cfg: cfg, log: log}
}

// Check screens r. Accepted readings join the sliding window; refused ones
// count as a violation, and reaching MaxViolations suspends the service for
// SuspensionDuration measured from r.Time.
func (s *Service) Check(r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Time.Before(s.suspendedUntil) {
		return fmt.Errorf("%w until %s", ErrSuspended, s.suspendedUntil.Format(time.RFC3339))
	}

	if err := s.evaluate(r); err != nil {
		s.violations++
		s.log.Warn("reading rejected",
			zap.Error(err),
			zap.Int("violations", s.violations))
		if s.violations >= s.cfg.MaxViolations {
			s.suspendedUntil = r.Time.Add(s.cfg.SuspensionDuration)
			s.violations = 0
			s.log.Warn("device suspended", zap.Time("until", s.suspendedUntil))
		}
		return err
	}

	s.window = append(s.window, r)
	if len(s.window) > s.cfg.WindowSize {
		s.window = s.window[len(s.window)-s.cfg.WindowSize:]
	}
	return nil
}

func (s *Service) evaluate(r Reading) error {
	if r.AccuracyM > s.cfg.MaxAccuracyMeters {
		return fmt.Errorf("%w: %.1f m > %.1f m", ErrAccuracyTooLow, r.AccuracyM, s.cfg.MaxAccuracyMeters)
	}
	for _, a := range s.cfg.ForbiddenActivities {
		if r.Activity == a {
			return fmt.Errorf("%w: %s", ErrForbiddenActivity, a)
		}
	}
	if r.SpeedMps > s.cfg.MaxSpeedMps {
		return fmt.Errorf("%w: %.1f m/s > %.1f m/s", ErrSpeedTooHigh, r.SpeedMps, s.cfg.MaxSpeedMps)
	}
	if r.SpeedMps >= s.cfg.MovingSpeedMps && r.StepCadence < s.cfg.MinCadence {
		return fmt.Errorf("%w: %.0f steps/min at %.1f m/s", ErrCadenceTooLow, r.StepCadence, r.SpeedMps)
	}
	for _, prev := range s.window {
		d := geo.HaversineMeters(prev.Lat, prev.Lon, r.Lat, r.Lon)
		dt := r.Time.Sub(prev.Time).Seconds()
		if dt <= 0 {
			// Any movement without elapsed time is an unbounded speed.
			if d > 0 {
				return fmt.Errorf("%w: %.0f m in %.0f s", ErrTeleport, d, dt)
			}
			continue
		}
		if v := d / dt; v > s.cfg.TeleportSpeedMps {
			return fmt.Errorf("%w: %.0f m in %.0f s", ErrTeleport, d, dt)
		}
	}
	return nil
}

// Violations returns the current violation count.
func (s *Service) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

// SuspendedUntil returns the end of the active suspension, or the zero time.
func (s *Service) SuspendedUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspendedUntil
}

// Reset clears the window, the counter and any suspension, e.g. when a new
// run starts.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.violations = 0
	s.suspendedUntil = time.Time{}
}
