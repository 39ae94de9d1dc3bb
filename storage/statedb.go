package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount   = registerPrefix("acct:")
	prefixPlayer    = registerPrefix("player:")
	prefixOwner     = registerPrefix("owner:")
	prefixMarker    = registerPrefix("marker:")
	prefixMeta      = registerPrefix("meta:")
	prefixCity      = registerPrefix("city:")
	prefixCityCount = registerPrefix("pcity:")
	prefixAntiCheat = registerPrefix("ac:")
	prefixStake     = registerPrefix("stake:")
	prefixCityStake = registerPrefix("cstake:")
	prefixPool      = registerPrefix("pool:")
)

const keyMarkerSeq = "meta:marker-seq"

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) getUint64(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("counter %q: bad length %d", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateDB) setUint64(key string, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	s.set(key, buf[:])
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address, Balance: new(uint256.Int)}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Player ----

func (s *StateDB) GetPlayer(id string) (*core.Player, error) {
	var p core.Player
	if err := s.getJSON(prefixPlayer+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPlayer stores p and binds its owner to it.
func (s *StateDB) SetPlayer(p *core.Player) error {
	if err := s.setJSON(prefixPlayer+p.ID, p); err != nil {
		return err
	}
	s.set(prefixOwner+p.Owner, []byte(p.ID))
	return nil
}

func (s *StateDB) PlayerByOwner(owner string) (string, error) {
	data, err := s.get(prefixOwner + owner)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ---- Marker ----

func (s *StateDB) GetMarker(id string) (*core.Marker, error) {
	var m core.Marker
	if err := s.getJSON(prefixMarker+id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMarker(m *core.Marker) error {
	return s.setJSON(prefixMarker+m.ID, m)
}

func (s *StateDB) NextMarkerSeq() (uint64, error) {
	seq, err := s.getUint64(keyMarkerSeq)
	if err != nil {
		return 0, err
	}
	s.setUint64(keyMarkerSeq, seq+1)
	return seq, nil
}

// ---- City ----

// GetCityStats returns an empty CityStats for a city with no activity yet.
func (s *StateDB) GetCityStats(city string) (*core.CityStats, error) {
	var c core.CityStats
	err := s.getJSON(prefixCity+city, &c)
	if errors.Is(err, core.ErrNotFound) {
		return &core.CityStats{City: city}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCityStats(c *core.CityStats) error {
	return s.setJSON(prefixCity+c.City, c)
}

func cityCountKey(city, playerID string) string {
	return prefixCityCount + city + "/" + playerID
}

func (s *StateDB) GetPlayerCityCount(city, playerID string) (uint64, error) {
	return s.getUint64(cityCountKey(city, playerID))
}

func (s *StateDB) SetPlayerCityCount(city, playerID string, count uint64) error {
	s.setUint64(cityCountKey(city, playerID), count)
	return nil
}

// ---- Anti-cheat ----

// GetAntiCheat returns a state without a sample for players that have never
// placed a marker.
func (s *StateDB) GetAntiCheat(playerID string) (*core.AntiCheatState, error) {
	var ac core.AntiCheatState
	err := s.getJSON(prefixAntiCheat+playerID, &ac)
	if errors.Is(err, core.ErrNotFound) {
		return &core.AntiCheatState{PlayerID: playerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

func (s *StateDB) SetAntiCheat(ac *core.AntiCheatState) error {
	return s.setJSON(prefixAntiCheat+ac.PlayerID, ac)
}

// ---- Staking ----

func (s *StateDB) GetStake(playerID string) (*core.StakeInfo, error) {
	var st core.StakeInfo
	if err := s.getJSON(prefixStake+playerID, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetStake(st *core.StakeInfo) error {
	return s.setJSON(prefixStake+st.PlayerID, st)
}

func cityStakeKey(city, playerID string) string {
	return prefixCityStake + city + "/" + playerID
}

func (s *StateDB) GetCityStake(city, playerID string) (*core.CityStake, error) {
	var cs core.CityStake
	if err := s.getJSON(cityStakeKey(city, playerID), &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *StateDB) SetCityStake(cs *core.CityStake) error {
	return s.setJSON(cityStakeKey(cs.City, cs.PlayerID), cs)
}

func (s *StateDB) GetPool(id string) (*core.PoolInfo, error) {
	var p core.PoolInfo
	if err := s.getJSON(prefixPool+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPool(p *core.PoolInfo) error {
	return s.setJSON(prefixPool+p.ID, p)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete ledger state:
// persisted entries under the registered prefixes merged with the write
// buffer, sorted by key and length-prefix encoded. It does not flush.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
