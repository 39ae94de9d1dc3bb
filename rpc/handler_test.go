package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/indexer"
	"github.com/tolelom/gpsrunner/internal/testutil"
	"github.com/tolelom/gpsrunner/marker"
	"github.com/tolelom/gpsrunner/storage"
	"github.com/tolelom/gpsrunner/vm"
	"github.com/tolelom/gpsrunner/wallet"

	_ "github.com/tolelom/gpsrunner/vm/modules/economy"
	_ "github.com/tolelom/gpsrunner/vm/modules/runner"
	_ "github.com/tolelom/gpsrunner/vm/modules/stake"
)

const testChainID = "gpsrun-rpc-test"

type rpcFixture struct {
	now     int64
	handler *Handler
	alice   *wallet.Wallet
	bob     *wallet.Wallet
	nonces  map[string]uint64
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	db := testutil.NewMemDB()
	emitter := events.NewEmitter(nil)
	idx := indexer.New(db, emitter)

	alice, err := wallet.Generate()
	require.NoError(t, err)
	bob, err := wallet.Generate()
	require.NoError(t, err)

	f := &rpcFixture{now: 1_700_000_000, alice: alice, bob: bob, nonces: make(map[string]uint64)}
	exec := vm.NewExecutor(storage.NewStateDB(db), emitter, vm.Options{
		ChainID: testChainID,
		Clock:   func() int64 { return f.now },
	})
	require.NoError(t, exec.Genesis("genesis", func(ctx *vm.Context) error {
		return bank.Mint(ctx.State, alice.PubKey(), uint256.NewInt(1_000_000))
	}))
	f.handler = NewHandler(exec, idx)
	return f
}

func (f *rpcFixture) call(method string, params any) Response {
	raw, _ := json.Marshal(params)
	return f.handler.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func (f *rpcFixture) sendTx(t *testing.T, w *wallet.Wallet, typ core.TxType, payload any) Response {
	t.Helper()
	tx, err := w.NewTx(testChainID, typ, f.nonces[w.PubKey()], payload)
	require.NoError(t, err)
	resp := f.call("sendTx", tx)
	if resp.Error == nil {
		f.nonces[w.PubKey()]++
	}
	return resp
}

// decodeResult round-trips the result through JSON, as a remote client
// would see it.
func decodeResult(t *testing.T, resp Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	f := newRPCFixture(t)
	var got struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	decodeResult(t, f.call("getBalance", map[string]string{"address": "nobody"}), &got)
	assert.Equal(t, "0", got.Balance)
	assert.Zero(t, got.Nonce)

	resp := f.call("getBalance", map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestSendTxTransfer(t *testing.T) {
	f := newRPCFixture(t)
	resp := f.sendTx(t, f.alice, core.TxTransfer, core.TransferPayload{To: f.bob.PubKey(), Amount: uint256.NewInt(400)})

	var receipt vm.Receipt
	decodeResult(t, resp, &receipt)
	assert.Equal(t, core.TxTransfer, receipt.Type)
	assert.Len(t, receipt.TxID, 64)

	var got struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	decodeResult(t, f.call("getBalance", map[string]string{"address": f.alice.PubKey()}), &got)
	assert.Equal(t, "999600", got.Balance)
	assert.Equal(t, uint64(1), got.Nonce)
}

func TestSendTxIgnoresClientID(t *testing.T) {
	f := newRPCFixture(t)
	tx, err := f.alice.Transfer(testChainID, f.bob.PubKey(), uint256.NewInt(1), 0)
	require.NoError(t, err)
	want := tx.ID
	tx.ID = "forged"

	var receipt vm.Receipt
	decodeResult(t, f.call("sendTx", tx), &receipt)
	assert.Equal(t, want, receipt.TxID)
}

func TestLedgerErrorMapping(t *testing.T) {
	f := newRPCFixture(t)

	resp := f.sendTx(t, f.bob, core.TxTransfer, core.TransferPayload{To: f.alice.PubKey(), Amount: uint256.NewInt(5)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePreconditionFailed, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, core.CodeInsufficientBalance, resp.Error.Data.Code)
	assert.Equal(t, core.KindPreconditionFailed, resp.Error.Data.Kind)

	resp = f.call("getPlayer", map[string]string{"player_id": f.alice.PlayerID()})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, core.CodePlayerNotFound, resp.Error.Data.Code)

	resp = f.call("getStake", map[string]string{"player_id": f.alice.PlayerID()})
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.CodeNoStake, resp.Error.Data.Code)

	resp = f.call("noSuchMethod", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestMarkerQueries(t *testing.T) {
	f := newRPCFixture(t)
	pid := f.alice.PlayerID()
	f.sendTx(t, f.alice, core.TxRegisterPlayer, core.RegisterPlayerPayload{
		PlayerID: pid,
		Attrs:    core.PlayerAttrs{Name: "alice"},
	})

	var ids []string
	for i := int64(0); i < 3; i++ {
		var receipt struct {
			Result map[string]string `json:"result"`
		}
		decodeResult(t, f.sendTx(t, f.alice, core.TxPlaceMarker, core.PlaceMarkerPayload{
			PlayerID: pid,
			Lat:      41_890_210 + i*1000,
			Lon:      12_492_231,
			City:     "rome",
			Landmark: "colosseo",
		}), &receipt)
		ids = append(ids, receipt.Result["marker_id"])
		f.now += 60
	}

	var player core.Player
	decodeResult(t, f.call("getPlayer", map[string]string{"player_id": pid}), &player)
	assert.Equal(t, uint64(3), player.TotalMarkers)
	assert.Equal(t, f.alice.PubKey(), player.Owner)

	var byOwner core.Player
	decodeResult(t, f.call("getPlayerByOwner", map[string]string{"owner": f.alice.PubKey()}), &byOwner)
	assert.Equal(t, pid, byOwner.ID)

	var m core.Marker
	decodeResult(t, f.call("getMarker", map[string]string{"marker_id": ids[1]}), &m)
	assert.Equal(t, int64(41_891_210), m.Lat)

	var listed []string
	decodeResult(t, f.call("getMarkersByPlayer", map[string]string{"player_id": pid}), &listed)
	assert.Equal(t, ids, listed)
	decodeResult(t, f.call("getMarkersByCity", map[string]string{"city": "rome"}), &listed)
	assert.Equal(t, ids, listed)
	decodeResult(t, f.call("getCitiesByPlayer", map[string]string{"player_id": pid}), &listed)
	assert.Equal(t, []string{"rome"}, listed)
	decodeResult(t, f.call("getMarkersByCity", map[string]string{"city": "oslo"}), &listed)
	assert.Empty(t, listed)

	var stats core.CityStats
	decodeResult(t, f.call("getCityStats", map[string]string{"city": "rome"}), &stats)
	assert.Equal(t, uint64(3), stats.TotalMarkers)
	assert.Equal(t, uint64(1), stats.TotalPlayers)

	var board []marker.RankEntry
	decodeResult(t, f.call("getCityLeaderboard", map[string]any{"city": "rome", "limit": 10}), &board)
	assert.Equal(t, []marker.RankEntry{{Rank: 1, PlayerID: pid, Count: 3}}, board)

	var rank marker.RankEntry
	decodeResult(t, f.call("getPlayerRank", map[string]string{"city": "rome", "player_id": pid}), &rank)
	assert.Equal(t, 1, rank.Rank)
	decodeResult(t, f.call("getPlayerRank", map[string]string{"city": "oslo", "player_id": pid}), &rank)
	assert.Zero(t, rank.Rank)
}

func TestStakingQueries(t *testing.T) {
	f := newRPCFixture(t)

	var pool core.PoolInfo
	decodeResult(t, f.call("getPool", nil), &pool)
	assert.Equal(t, core.GlobalPoolID, pool.ID)
	assert.True(t, pool.TotalStaked.IsZero())

	decodeResult(t, f.call("getPool", map[string]string{"city": "rome"}), &pool)
	assert.Equal(t, core.CityPoolID("rome"), pool.ID)

	var pending struct {
		Amount string `json:"amount"`
	}
	decodeResult(t, f.call("pendingRewards", map[string]string{"player_id": f.alice.PlayerID()}), &pending)
	assert.Equal(t, "0", pending.Amount)
	decodeResult(t, f.call("pendingCityRewards", map[string]string{
		"player_id": f.alice.PlayerID(), "city": "rome",
	}), &pending)
	assert.Equal(t, "0", pending.Amount)

	var cs core.CityStake
	decodeResult(t, f.call("getCityStake", map[string]string{
		"player_id": f.alice.PlayerID(), "city": "rome",
	}), &cs)
	assert.True(t, cs.Amount.IsZero())
}

func TestGetStateRootTracksCommits(t *testing.T) {
	f := newRPCFixture(t)
	var before, after map[string]string
	decodeResult(t, f.call("getStateRoot", nil), &before)
	f.sendTx(t, f.alice, core.TxTransfer, core.TransferPayload{To: f.bob.PubKey(), Amount: uint256.NewInt(1)})
	decodeResult(t, f.call("getStateRoot", nil), &after)
	assert.NotEqual(t, before["state_root"], after["state_root"])
}

func TestServerRoutes(t *testing.T) {
	f := newRPCFixture(t)
	srv := NewServer("127.0.0.1:0", f.handler, "secret")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"getStateRoot"}`)

	post := func(token string) Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/", bytes.NewReader(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		var resp Response
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		return resp
	}

	resp := post("")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)

	resp = post("secret")
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(7), resp.ID)

	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res2, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res2.StatusCode)
}

func TestServerRejectsBadEnvelope(t *testing.T) {
	f := newRPCFixture(t)
	ts := httptest.NewServer(NewServer("127.0.0.1:0", f.handler, "").Router())
	defer ts.Close()

	for body, want := range map[string]int{
		`{not json`: CodeParseError,
		`{"jsonrpc":"1.0","id":1,"method":"getStateRoot"}`: CodeInvalidRequest,
	} {
		res, err := http.Post(ts.URL+"/", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		res.Body.Close()
		require.NotNil(t, resp.Error, body)
		assert.Equal(t, want, resp.Error.Code, body)
	}
}
