// Package anticheat decides whether a proposed location sample may be
// written into the ledger.
package anticheat

import (
	"fmt"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/geo"
)

// Defaults for the server-side gate. The device pre-filter is far stricter;
// this layer only stops samples no runner could produce.
const (
	DefaultCooldownSeconds = 30
	DefaultMaxSpeedKmh     = 150
)

// Config holds the gate thresholds.
type Config struct {
	CooldownSeconds int64  `mapstructure:"cooldown_seconds" json:"cooldown_seconds"`
	MaxSpeedKmh     uint64 `mapstructure:"max_speed_kmh" json:"max_speed_kmh"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		CooldownSeconds: DefaultCooldownSeconds,
		MaxSpeedKmh:     DefaultMaxSpeedKmh,
	}
}

// Sample is a proposed marker location.
type Sample struct {
	Lat           int64 // micro-degrees
	Lon           int64 // micro-degrees
	Time          int64 // unix seconds
	ReportedSpeed uint32
}

func (s Sample) point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

// Gate is stateless: every decision depends only on the arguments.
type Gate struct {
	cfg Config
}

// NewGate creates a Gate. Zero thresholds fall back to the defaults.
func NewGate(cfg Config) *Gate {
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = DefaultCooldownSeconds
	}
	if cfg.MaxSpeedKmh == 0 {
		cfg.MaxSpeedKmh = DefaultMaxSpeedKmh
	}
	return &Gate{cfg: cfg}
}

// Admit returns nil when sample may be committed after prev, or the first
// failing check as a core error: INVALID_COORDINATES, COOLDOWN_NOT_MET or
// SPEED_TOO_HIGH, in that order. The first sample of a player is never
// speed checked.
func (g *Gate) Admit(prev core.AntiCheatState, sample Sample) error {
	if !sample.point().InBounds() {
		return core.NewError(core.CodeInvalidCoordinates,
			fmt.Sprintf("lat %d lon %d out of range", sample.Lat, sample.Lon))
	}
	if !prev.HasSample {
		return nil
	}
	if readyAt := prev.LastMarkerTime + g.cfg.CooldownSeconds; sample.Time < readyAt {
		return core.NewError(core.CodeCooldownNotMet,
			fmt.Sprintf("next marker allowed at %d, now %d", readyAt, sample.Time))
	}
	last := geo.Point{Lat: prev.LastLat, Lon: prev.LastLon}
	if kmh := geo.SpeedKmh(last, sample.point(), sample.Time-prev.LastTimestamp); kmh > g.cfg.MaxSpeedKmh {
		return core.NewError(core.CodeSpeedTooHigh,
			fmt.Sprintf("%d km/h exceeds %d km/h", kmh, g.cfg.MaxSpeedKmh))
	}
	return nil
}

// Commit returns the state that follows prev once sample has been accepted.
// It panics if time would move backwards; Admit's cooldown check rules that
// out for any admitted sample.
func (g *Gate) Commit(prev core.AntiCheatState, sample Sample) core.AntiCheatState {
	if prev.HasSample && sample.Time < prev.LastMarkerTime {
		panic(fmt.Sprintf("anticheat: marker time regressed from %d to %d", prev.LastMarkerTime, sample.Time))
	}
	return core.AntiCheatState{
		PlayerID:       prev.PlayerID,
		HasSample:      true,
		LastLat:        sample.Lat,
		LastLon:        sample.Lon,
		LastTimestamp:  sample.Time,
		LastMarkerTime: sample.Time,
	}
}
