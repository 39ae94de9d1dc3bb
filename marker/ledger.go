// Package marker keeps players, their location markers and the per-city
// statistics and leaderboards derived from them.
package marker

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tolelom/gpsrunner/anticheat"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/crypto"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/geo"
)

// Input limits.
const (
	MaxNameLength  = 32
	MaxTagLength   = 64
	MaxBatchVerify = 100
	PlayerIDLength = 64 // hex chars of a 32-byte key
)

// Ledger applies marker operations to a State. It holds no state of its own
// and is created per call by the executor.
type Ledger struct {
	state  core.State
	gate   *anticheat.Gate
	events events.Sink
}

type discard struct{}

func (discard) Emit(events.Event) {}

// NewLedger creates a Ledger. sink may be nil for read-only use.
func NewLedger(state core.State, gate *anticheat.Gate, sink events.Sink) *Ledger {
	if gate == nil {
		gate = anticheat.NewGate(anticheat.DefaultConfig())
	}
	if sink == nil {
		sink = discard{}
	}
	return &Ledger{state: state, gate: gate, events: sink}
}

// ValidPlayerID reports whether id is 64 lowercase hex characters.
func ValidPlayerID(id string) bool {
	if len(id) != PlayerIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func checkTag(field, v string, max int) error {
	if n := utf8.RuneCountInString(v); n == 0 || n > max {
		return core.NewError(core.CodeInvalidInput,
			fmt.Sprintf("%s must be 1..%d characters, got %d", field, max, n))
	}
	return nil
}

// RegisterPlayer binds playerID to the caller's identity. Both the id and
// the identity may only ever be bound once.
func (l *Ledger) RegisterPlayer(call core.Call, playerID string, attrs core.PlayerAttrs) error {
	if !ValidPlayerID(playerID) {
		return core.NewError(core.CodeInvalidPlayerID, fmt.Sprintf("player id %q is not 64 hex chars", playerID))
	}
	if err := checkTag("name", attrs.Name, MaxNameLength); err != nil {
		return err
	}

	if _, err := l.state.GetPlayer(playerID); err == nil {
		return core.NewError(core.CodePlayerAlreadyExists, "player "+playerID+" already registered")
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if bound, err := l.state.PlayerByOwner(call.Caller.Identity); err == nil {
		return core.NewError(core.CodePlayerAlreadyExists,
			fmt.Sprintf("identity already owns player %s", bound))
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	p := &core.Player{
		ID:           playerID,
		Owner:        call.Caller.Identity,
		RegisteredAt: call.Now,
		Attrs:        attrs,
	}
	if err := l.state.SetPlayer(p); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventPlayerRegistered,
		Data: map[string]any{"player_id": playerID, "owner": p.Owner, "name": attrs.Name},
	})
	return nil
}

// Placement is a marker submission.
type Placement struct {
	PlayerID      string
	Lat           int64 // micro-degrees
	Lon           int64 // micro-degrees
	City          string
	Landmark      string
	ReportedSpeed uint32 // km/h
}

// PlaceMarker admits p through the anti-cheat gate and records it. On any
// error nothing has been written.
func (l *Ledger) PlaceMarker(call core.Call, p Placement) (string, error) {
	if err := checkTag("city", p.City, MaxTagLength); err != nil {
		return "", err
	}
	if err := checkTag("landmark", p.Landmark, MaxTagLength); err != nil {
		return "", err
	}

	player, err := l.player(p.PlayerID)
	if err != nil {
		return "", err
	}
	if player.Owner != call.Caller.Identity {
		return "", core.NewError(core.CodeNotAuthorized, "caller does not own player "+p.PlayerID)
	}

	ac, err := l.state.GetAntiCheat(p.PlayerID)
	if err != nil {
		return "", err
	}
	sample := anticheat.Sample{Lat: p.Lat, Lon: p.Lon, Time: call.Now, ReportedSpeed: p.ReportedSpeed}
	if err := l.gate.Admit(*ac, sample); err != nil {
		return "", err
	}

	seq, err := l.state.NextMarkerSeq()
	if err != nil {
		return "", err
	}
	id := markerID(p, call, seq)
	if _, err := l.state.GetMarker(id); err == nil {
		panic(fmt.Sprintf("marker: id collision %s", id))
	} else if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	m := &core.Marker{
		ID:            id,
		PlayerID:      p.PlayerID,
		Lat:           p.Lat,
		Lon:           p.Lon,
		Timestamp:     call.Now,
		ReportedSpeed: p.ReportedSpeed,
		City:          p.City,
		Landmark:      p.Landmark,
	}
	if err := l.state.SetMarker(m); err != nil {
		return "", err
	}

	var dist uint64
	if ac.HasSample {
		dist = geo.ApproxDistanceMeters(geo.Point{Lat: ac.LastLat, Lon: ac.LastLon}, geo.Point{Lat: p.Lat, Lon: p.Lon})
	}
	player.TotalMarkers++
	player.TotalDistance += dist
	if err := l.state.SetPlayer(player); err != nil {
		return "", err
	}

	if err := l.recordCityMarker(call, p.City, p.PlayerID); err != nil {
		return "", err
	}

	next := l.gate.Commit(*ac, sample)
	next.PlayerID = p.PlayerID
	if err := l.state.SetAntiCheat(&next); err != nil {
		return "", err
	}

	l.events.Emit(events.Event{
		Type: events.EventMarkerPlaced,
		Data: map[string]any{
			"marker_id": id,
			"player_id": p.PlayerID,
			"city":      p.City,
			"landmark":  p.Landmark,
			"lat":       p.Lat,
			"lon":       p.Lon,
			"distance":  dist,
		},
	})
	return id, nil
}

func (l *Ledger) recordCityMarker(call core.Call, city, playerID string) error {
	stats, err := l.state.GetCityStats(city)
	if err != nil {
		return err
	}
	count, err := l.state.GetPlayerCityCount(city, playerID)
	if err != nil {
		return err
	}
	count++
	if err := l.state.SetPlayerCityCount(city, playerID, count); err != nil {
		return err
	}

	stats.TotalMarkers++
	stats.LastActivity = call.Now
	if count == 1 {
		stats.TotalPlayers++
		l.events.Emit(events.Event{
			Type: events.EventPlayerJoinedCity,
			Data: map[string]any{"player_id": playerID, "city": city},
		})
	}

	board, err := updateLeaderboard(stats.Leaderboard, playerID, count, func(id string) (uint64, error) {
		return l.state.GetPlayerCityCount(city, id)
	})
	if err != nil {
		return err
	}
	stats.Leaderboard = board
	return l.state.SetCityStats(stats)
}

// markerID hashes playerID, coordinates, time, the transaction id and the
// global marker sequence.
func markerID(p Placement, call core.Call, seq uint64) string {
	var nums [32]byte
	binary.BigEndian.PutUint64(nums[0:], uint64(p.Lat))
	binary.BigEndian.PutUint64(nums[8:], uint64(p.Lon))
	binary.BigEndian.PutUint64(nums[16:], uint64(call.Now))
	binary.BigEndian.PutUint64(nums[24:], seq)
	pid, err := hex.DecodeString(p.PlayerID)
	if err != nil {
		pid = []byte(p.PlayerID)
	}
	return crypto.Keccak256(pid, nums[:24], []byte(call.TxID), nums[24:])
}

func canVerify(c core.Caller) bool {
	return c.Roles.Has(core.RoleVerifier) || c.Roles.Has(core.RoleAdmin)
}

// VerifyMarker sets the verified flag of a marker. Verifying twice is a
// no-op.
func (l *Ledger) VerifyMarker(call core.Call, markerID string) error {
	if !canVerify(call.Caller) {
		return core.NewError(core.CodeNotAuthorized, "verifier role required")
	}
	m, err := l.marker(markerID)
	if err != nil {
		return err
	}
	return l.flip(m)
}

// BatchVerifyMarkers verifies every id or none of them.
func (l *Ledger) BatchVerifyMarkers(call core.Call, markerIDs []string) error {
	if !canVerify(call.Caller) {
		return core.NewError(core.CodeNotAuthorized, "verifier role required")
	}
	if len(markerIDs) == 0 || len(markerIDs) > MaxBatchVerify {
		return core.NewError(core.CodeInvalidInput,
			fmt.Sprintf("batch must hold 1..%d ids, got %d", MaxBatchVerify, len(markerIDs)))
	}
	markers := make([]*core.Marker, 0, len(markerIDs))
	seen := make(map[string]struct{}, len(markerIDs))
	for _, id := range markerIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m, err := l.marker(id)
		if err != nil {
			return err
		}
		markers = append(markers, m)
	}
	for _, m := range markers {
		if err := l.flip(m); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) flip(m *core.Marker) error {
	if m.Verified {
		return nil
	}
	m.Verified = true
	if err := l.state.SetMarker(m); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventMarkerVerified,
		Data: map[string]any{"marker_id": m.ID, "player_id": m.PlayerID},
	})
	return nil
}

// ---- views ----

func (l *Ledger) player(id string) (*core.Player, error) {
	p, err := l.state.GetPlayer(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.WrapError(core.CodePlayerNotFound, "player "+id, err)
	}
	return p, err
}

func (l *Ledger) marker(id string) (*core.Marker, error) {
	m, err := l.state.GetMarker(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.WrapError(core.CodeMarkerNotFound, "marker "+id, err)
	}
	return m, err
}

// Player returns a registered player.
func (l *Ledger) Player(id string) (*core.Player, error) { return l.player(id) }

// Marker returns a marker by id.
func (l *Ledger) Marker(id string) (*core.Marker, error) { return l.marker(id) }

// CityStats returns the aggregate of a city; unknown cities are empty.
func (l *Ledger) CityStats(city string) (*core.CityStats, error) {
	return l.state.GetCityStats(city)
}

// PlayerCityCount returns how many markers a player placed in a city.
func (l *Ledger) PlayerCityCount(city, playerID string) (uint64, error) {
	return l.state.GetPlayerCityCount(city, playerID)
}

// RankEntry is one leaderboard row. Rank is 1-based.
type RankEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Count    uint64 `json:"count"`
}

// CityLeaderboard returns the top limit entries of a city. A limit of zero,
// a negative limit or one beyond the board's length returns the whole board.
func (l *Ledger) CityLeaderboard(city string, limit int) ([]RankEntry, error) {
	stats, err := l.state.GetCityStats(city)
	if err != nil {
		return nil, err
	}
	board := stats.Leaderboard
	if limit > 0 && limit < len(board) {
		board = board[:limit]
	}
	out := make([]RankEntry, 0, len(board))
	for i, id := range board {
		n, err := l.state.GetPlayerCityCount(city, id)
		if err != nil {
			return nil, err
		}
		out = append(out, RankEntry{Rank: i + 1, PlayerID: id, Count: n})
	}
	return out, nil
}

// PlayerRank returns the 1-based rank of a player in a city, or 0 when the
// player is not on the board.
func (l *Ledger) PlayerRank(city, playerID string) (int, error) {
	stats, err := l.state.GetCityStats(city)
	if err != nil {
		return 0, err
	}
	for i, id := range stats.Leaderboard {
		if id == playerID {
			return i + 1, nil
		}
	}
	return 0, nil
}
