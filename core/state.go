package core

import "github.com/holiman/uint256"

// System accounts. They hold funds on behalf of the staking ledger and are
// never addressable by a signed transaction.
const (
	AccountStakeEscrow   = "sys:stake-escrow"   // staked principal
	AccountRewardReserve = "sys:reward-reserve" // funds reward payouts
)

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key, or a system account name.
type Account struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"`
}

// PlayerAttrs are display-only attributes chosen at registration.
type PlayerAttrs struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	TeamColor string `json:"team_color,omitempty"`
}

// Player is a registered runner. Owner is bound permanently at registration.
type Player struct {
	ID            string      `json:"id"`    // 64 hex chars
	Owner         string      `json:"owner"` // pubkey hex
	RegisteredAt  int64       `json:"registered_at"`
	TotalMarkers  uint64      `json:"total_markers"`
	TotalDistance uint64      `json:"total_distance"` // meters
	Attrs         PlayerAttrs `json:"attrs"`
}

// Marker is a single accepted location claim. Only Verified ever changes.
type Marker struct {
	ID            string `json:"id"`
	PlayerID      string `json:"player_id"`
	Lat           int64  `json:"lat"` // micro-degrees
	Lon           int64  `json:"lon"` // micro-degrees
	Timestamp     int64  `json:"timestamp"`
	ReportedSpeed uint32 `json:"reported_speed"` // km/h, device reported
	City          string `json:"city"`
	Landmark      string `json:"landmark"`
	Verified      bool   `json:"verified"`
}

// CityStats aggregates activity in one city. Leaderboard holds at most
// LeaderboardSize player ids ordered by descending city marker count.
type CityStats struct {
	City         string   `json:"city"`
	TotalMarkers uint64   `json:"total_markers"`
	TotalPlayers uint64   `json:"total_players"`
	LastActivity int64    `json:"last_activity"`
	Leaderboard  []string `json:"leaderboard"`
}

// LeaderboardSize caps every city leaderboard.
const LeaderboardSize = 100

// AntiCheatState is the last accepted sample of a player.
type AntiCheatState struct {
	PlayerID       string `json:"player_id"`
	HasSample      bool   `json:"has_sample"`
	LastLat        int64  `json:"last_lat"`
	LastLon        int64  `json:"last_lon"`
	LastTimestamp  int64  `json:"last_timestamp"`
	LastMarkerTime int64  `json:"last_marker_time"`
}

// StakeInfo is a player's position in the global reward pool.
type StakeInfo struct {
	PlayerID           string       `json:"player_id"`
	Owner              string       `json:"owner"`
	Amount             *uint256.Int `json:"amount"`
	RewardDebt         *uint256.Int `json:"reward_debt"`
	PendingRewards     *uint256.Int `json:"pending_rewards"`
	StakeTime          int64        `json:"stake_time"`
	LastClaimTime      int64        `json:"last_claim_time"`
	UnstakeRequestTime int64        `json:"unstake_request_time"`
	UnstakeRequested   bool         `json:"unstake_requested"`
	ActivityMultiplier uint64       `json:"activity_multiplier"` // 100 = 1.00x
}

// CityStake is a player's position in one city bonus pool.
type CityStake struct {
	PlayerID       string       `json:"player_id"`
	City           string       `json:"city"`
	Amount         *uint256.Int `json:"amount"`
	RewardDebt     *uint256.Int `json:"reward_debt"`
	PendingRewards *uint256.Int `json:"pending_rewards"`
	StakeTime      int64        `json:"stake_time"`
}

// GlobalPoolID names the main reward pool; city pools use "city:<tag>".
const GlobalPoolID = "global"

// PoolInfo is a reward-per-share accumulator. AccRewardPerShare is scaled by
// 1e18 and never decreases.
type PoolInfo struct {
	ID                string       `json:"id"`
	TotalStaked       *uint256.Int `json:"total_staked"`
	AccRewardPerShare *uint256.Int `json:"acc_reward_per_share"`
	RewardRate        *uint256.Int `json:"reward_rate"` // wei per second
	EndTime           int64        `json:"end_time"`
	LastUpdate        int64        `json:"last_update"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed calls.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Players
	GetPlayer(id string) (*Player, error)
	SetPlayer(p *Player) error
	// PlayerByOwner resolves the player id bound to an identity.
	PlayerByOwner(owner string) (string, error)

	// Markers
	GetMarker(id string) (*Marker, error)
	SetMarker(m *Marker) error
	// NextMarkerSeq returns and advances the global marker sequence.
	NextMarkerSeq() (uint64, error)

	// Cities
	GetCityStats(city string) (*CityStats, error)
	SetCityStats(c *CityStats) error
	GetPlayerCityCount(city, playerID string) (uint64, error)
	SetPlayerCityCount(city, playerID string, count uint64) error

	// Anti-cheat
	GetAntiCheat(playerID string) (*AntiCheatState, error)
	SetAntiCheat(s *AntiCheatState) error

	// Staking
	GetStake(playerID string) (*StakeInfo, error)
	SetStake(s *StakeInfo) error
	GetCityStake(city, playerID string) (*CityStake, error)
	SetCityStake(s *CityStake) error
	GetPool(id string) (*PoolInfo, error)
	SetPool(p *PoolInfo) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}

// CityPoolID returns the pool id of a city bonus pool.
func CityPoolID(city string) string {
	return "city:" + city
}
