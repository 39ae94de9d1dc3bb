package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/tolelom/gpsrunner/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer    TxType = "transfer"
	TxFundRewards TxType = "fund_rewards"

	TxRegisterPlayer     TxType = "register_player"
	TxPlaceMarker        TxType = "place_marker"
	TxVerifyMarker       TxType = "verify_marker"
	TxBatchVerifyMarkers TxType = "batch_verify_markers"

	TxStake                    TxType = "stake"
	TxStakeToCity              TxType = "stake_to_city"
	TxRequestUnstake           TxType = "request_unstake"
	TxUnstake                  TxType = "unstake"
	TxUnstakeFromCity          TxType = "unstake_from_city"
	TxClaimRewards             TxType = "claim_rewards"
	TxClaimCityRewards         TxType = "claim_city_rewards"
	TxUpdateActivityMultiplier TxType = "update_activity_multiplier"
	TxConfigurePool            TxType = "configure_pool"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// FundRewardsPayload moves tokens from the sender into the reward reserve.
type FundRewardsPayload struct {
	Amount *uint256.Int `json:"amount"`
}

// RegisterPlayerPayload binds a new player id to the sender.
type RegisterPlayerPayload struct {
	PlayerID string      `json:"player_id"`
	Attrs    PlayerAttrs `json:"attrs"`
}

// PlaceMarkerPayload claims a location for a player.
type PlaceMarkerPayload struct {
	PlayerID      string `json:"player_id"`
	Lat           int64  `json:"lat"`
	Lon           int64  `json:"lon"`
	City          string `json:"city"`
	Landmark      string `json:"landmark"`
	ReportedSpeed uint32 `json:"reported_speed"`
}

// VerifyMarkerPayload flags one marker as verified.
type VerifyMarkerPayload struct {
	MarkerID string `json:"marker_id"`
}

// BatchVerifyMarkersPayload flags several markers as verified.
type BatchVerifyMarkersPayload struct {
	MarkerIDs []string `json:"marker_ids"`
}

// StakePayload deposits into the global pool.
type StakePayload struct {
	PlayerID string       `json:"player_id"`
	Amount   *uint256.Int `json:"amount"`
}

// StakeToCityPayload deposits into a city bonus pool.
type StakeToCityPayload struct {
	PlayerID string       `json:"player_id"`
	City     string       `json:"city"`
	Amount   *uint256.Int `json:"amount"`
}

// PlayerPayload addresses a player's main stake (request_unstake, unstake,
// claim_rewards).
type PlayerPayload struct {
	PlayerID string `json:"player_id"`
}

// PlayerCityPayload addresses a player's city stake.
type PlayerCityPayload struct {
	PlayerID string `json:"player_id"`
	City     string `json:"city"`
}

// UpdateActivityMultiplierPayload pushes a fresh marker count.
type UpdateActivityMultiplierPayload struct {
	PlayerID    string `json:"player_id"`
	MarkerCount uint64 `json:"marker_count"`
}

// ConfigurePoolPayload sets a pool's reward schedule. Empty City is the
// global pool.
type ConfigurePoolPayload struct {
	City       string       `json:"city"`
	RewardRate *uint256.Int `json:"reward_rate"`
	EndTime    int64        `json:"end_time"`
}
