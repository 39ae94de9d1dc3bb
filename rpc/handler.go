package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/indexer"
	"github.com/tolelom/gpsrunner/marker"
	"github.com/tolelom/gpsrunner/vm"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	exec    *vm.Executor
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler. idx may be nil, in which case the
// index methods report an internal error.
func NewHandler(exec *vm.Executor, idx *indexer.Indexer) *Handler {
	return &Handler{exec: exec, indexer: idx}
}

type methodFunc func(h *Handler, req Request) Response

var methods = map[string]methodFunc{
	"sendTx":             (*Handler).sendTx,
	"getStateRoot":       (*Handler).getStateRoot,
	"getBalance":         (*Handler).getBalance,
	"getPlayer":          (*Handler).getPlayer,
	"getPlayerByOwner":   (*Handler).getPlayerByOwner,
	"getMarker":          (*Handler).getMarker,
	"getCityStats":       (*Handler).getCityStats,
	"getCityLeaderboard": (*Handler).getCityLeaderboard,
	"getPlayerRank":      (*Handler).getPlayerRank,
	"getStake":           (*Handler).getStake,
	"getCityStake":       (*Handler).getCityStake,
	"getPool":            (*Handler).getPool,
	"pendingRewards":     (*Handler).pendingRewards,
	"pendingCityRewards": (*Handler).pendingCityRewards,
	"getMarkersByPlayer": (*Handler).getMarkersByPlayer,
	"getMarkersByCity":   (*Handler).getMarkersByCity,
	"getCitiesByPlayer":  (*Handler).getCitiesByPlayer,
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	fn, ok := methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	return fn(h, req)
}

// decodeParams unmarshals req.Params into v. Absent params leave v zero.
func decodeParams(req Request, v any) *Response {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &resp
	}
	return nil
}

func required(req Request, name, value string) *Response {
	if value == "" {
		resp := errResponse(req.ID, CodeInvalidParams, name+" is required")
		return &resp
	}
	return nil
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	receipt, err := h.exec.ExecuteTx(&tx)
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, receipt)
}

func (h *Handler) getStateRoot(req Request) Response {
	return okResponse(req.ID, map[string]string{"state_root": h.exec.StateRoot()})
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "address", params.Address); resp != nil {
		return *resp
	}
	var acc *core.Account
	err := h.exec.View(func(v *vm.View) error {
		var err error
		acc, err = v.State.GetAccount(params.Address)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address": params.Address,
		"balance": acc.Balance,
		"nonce":   acc.Nonce,
		"system":  bank.IsSystemAccount(params.Address),
	})
}

type playerParams struct {
	PlayerID string `json:"player_id"`
}

type cityParams struct {
	City     string `json:"city"`
	PlayerID string `json:"player_id"`
	Limit    int    `json:"limit"`
}

func (h *Handler) getPlayer(req Request) Response {
	var params playerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var p *core.Player
	err := h.exec.View(func(v *vm.View) error {
		var err error
		p, err = v.Markers.Player(params.PlayerID)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) getPlayerByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "owner", params.Owner); resp != nil {
		return *resp
	}
	var p *core.Player
	err := h.exec.View(func(v *vm.View) error {
		id, err := v.State.PlayerByOwner(params.Owner)
		if err != nil {
			return core.WrapError(core.CodePlayerNotFound, "owner "+params.Owner, err)
		}
		p, err = v.Markers.Player(id)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) getMarker(req Request) Response {
	var params struct {
		MarkerID string `json:"marker_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "marker_id", params.MarkerID); resp != nil {
		return *resp
	}
	var m *core.Marker
	err := h.exec.View(func(v *vm.View) error {
		var err error
		m, err = v.Markers.Marker(params.MarkerID)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, m)
}

func (h *Handler) getCityStats(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	var stats *core.CityStats
	err := h.exec.View(func(v *vm.View) error {
		var err error
		stats, err = v.Markers.CityStats(params.City)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, stats)
}

func (h *Handler) getCityLeaderboard(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	var board []marker.RankEntry
	err := h.exec.View(func(v *vm.View) error {
		var err error
		board, err = v.Markers.CityLeaderboard(params.City, params.Limit)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, board)
}

func (h *Handler) getPlayerRank(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var (
		rank  int
		count uint64
	)
	err := h.exec.View(func(v *vm.View) error {
		var err error
		if rank, err = v.Markers.PlayerRank(params.City, params.PlayerID); err != nil {
			return err
		}
		count, err = v.Markers.PlayerCityCount(params.City, params.PlayerID)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, marker.RankEntry{Rank: rank, PlayerID: params.PlayerID, Count: count})
}

func (h *Handler) getStake(req Request) Response {
	var params playerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var st *core.StakeInfo
	err := h.exec.View(func(v *vm.View) error {
		var err error
		st, err = v.Staking.StakeOf(params.PlayerID)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, st)
}

func (h *Handler) getCityStake(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var cs *core.CityStake
	err := h.exec.View(func(v *vm.View) error {
		var err error
		cs, err = v.Staking.CityStake(params.City, params.PlayerID)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, cs)
}

// getPool returns the global pool, or a city pool when city is set.
func (h *Handler) getPool(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	id := core.GlobalPoolID
	if params.City != "" {
		id = core.CityPoolID(params.City)
	}
	var p *core.PoolInfo
	err := h.exec.View(func(v *vm.View) error {
		var err error
		p, err = v.Staking.Pool(id)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) pendingRewards(req Request) Response {
	var params playerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var amount *uint256.Int
	err := h.exec.View(func(v *vm.View) error {
		var err error
		amount, err = v.Staking.PendingRewards(params.PlayerID, v.Now)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"player_id": params.PlayerID, "amount": amount})
}

func (h *Handler) pendingCityRewards(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	var amount *uint256.Int
	err := h.exec.View(func(v *vm.View) error {
		var err error
		amount, err = v.Staking.PendingCityRewards(params.PlayerID, params.City, v.Now)
		return err
	})
	if err != nil {
		return ledgerErrResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"player_id": params.PlayerID,
		"city":      params.City,
		"amount":    amount,
	})
}

func (h *Handler) getMarkersByPlayer(req Request) Response {
	var params playerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	return h.indexLookup(req, func(idx *indexer.Indexer) ([]string, error) {
		return idx.MarkersByPlayer(params.PlayerID)
	})
}

func (h *Handler) getMarkersByCity(req Request) Response {
	var params cityParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "city", params.City); resp != nil {
		return *resp
	}
	return h.indexLookup(req, func(idx *indexer.Indexer) ([]string, error) {
		return idx.MarkersByCity(params.City)
	})
}

func (h *Handler) getCitiesByPlayer(req Request) Response {
	var params playerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := required(req, "player_id", params.PlayerID); resp != nil {
		return *resp
	}
	return h.indexLookup(req, func(idx *indexer.Indexer) ([]string, error) {
		return idx.CitiesByPlayer(params.PlayerID)
	})
}

func (h *Handler) indexLookup(req Request, fn func(*indexer.Indexer) ([]string, error)) Response {
	if h.indexer == nil {
		return errResponse(req.ID, CodeInternalError, "indexer disabled")
	}
	ids, err := fn(h.indexer)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}
