package rpc

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FusionX-io/bridge-go/bridge"
	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/common"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/state"
)

func newTestServer(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	statedb, err := state.NewStateDB(sqlDB)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)

	store := state.NewStore(statedb, state.DefaultConfig())
	bus := eventbus.New(nil)
	orc := bridge.New(store, bus, chain.NewSimChain("ethereum"), chain.NewSimChain("stellar"))

	srv := NewServer(cfg, orc, bus)
	ts := httptest.NewServer(srv.SetupRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func call(t *testing.T, ts *httptest.Server, method string, params interface{}) *Response {
	req := map[string]interface{}{"id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+RouteRPC, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func submitParams(id string) map[string]interface{} {
	return map[string]interface{}{
		"orderId":           id,
		"srcChain":          "ethereum",
		"dstChain":          "stellar",
		"srcAsset":          "0xaa",
		"srcAmount":         "1000",
		"dstAsset":          "USDC:GAXX",
		"dstAmount":         "1000",
		"timelock":          time.Now().Add(2 * time.Hour).Unix(),
		"sender":            "0x1111111111111111111111111111111111111111",
		"beneficiary":       "GBENEFICIARY",
		"allowPartialFills": true,
		"fragmentCount":     5,
	}
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := call(t, ts, "ping", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestGetAllowedMethods(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := call(t, ts, "getAllowedMethods", nil)
	require.Nil(t, resp.Error)

	methods, ok := resp.Result.([]interface{})
	require.True(t, ok)
	assert.Len(t, methods, len(methodTable))
	assert.Contains(t, methods, "submitOrder")
}

func TestMethodNotFound(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := call(t, ts, "noSuchMethod", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+RouteRPC, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeParseError, out.Error.Code)
}

func TestSubmitOrderAndStatus(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := call(t, ts, "submitOrder", submitParams("ord-1"))
	require.Nil(t, resp.Error)
	order := resp.Result.(map[string]interface{})
	assert.Equal(t, "BOTH_ACTIVE", order["status"])
	assert.Equal(t, "1000", order["srcAmount"])

	resp = call(t, ts, "getOrderStatus", map[string]string{"orderId": "ord-1"})
	require.Nil(t, resp.Error)
	status := resp.Result.(map[string]interface{})
	frags := status["fragments"].([]interface{})
	assert.Len(t, frags, 5)

	resp = call(t, ts, "getActiveOrders", nil)
	require.Nil(t, resp.Error)
	active := resp.Result.(map[string]interface{})["orders"].([]interface{})
	assert.Len(t, active, 1)
}

func TestSubmitOrderValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	bad := submitParams("ord-2")
	bad["srcAmount"] = "not-a-number"
	resp := call(t, ts, "submitOrder", bad)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	late := submitParams("ord-3")
	late["timelock"] = time.Now().Add(time.Minute).Unix()
	resp = call(t, ts, "submitOrder", late)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "timelock_out_of_range", resp.Error.Data)

	resp = call(t, ts, "getOrderStatus", map[string]string{"orderId": "missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "order_not_found", resp.Error.Data)
}

func TestGetSecretsReleasesOnlyNextFragment(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := call(t, ts, "submitOrder", submitParams("ord-4"))
	require.Nil(t, resp.Error)

	resp = call(t, ts, "getSecrets", map[string]string{"orderId": "ord-4"})
	require.Nil(t, resp.Error)

	secrets := resp.Result.(map[string]interface{})["secrets"].([]interface{})
	require.Len(t, secrets, 1)

	first := secrets[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["index"])

	// the revealed pre-image hashes to the advertised commitment
	preimage := common.HexStrToBytes32(first["secret"].(string))
	hash := crypto.Keccak256Hash(preimage[:])
	assert.Equal(t, first["secretHash"], hash.Hex())
}

func TestGetActiveOrdersFilters(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, id := range []string{"ord-f1", "ord-f2", "ord-f3"} {
		resp := call(t, ts, "submitOrder", submitParams(id))
		require.Nil(t, resp.Error)
	}

	list := func(params map[string]interface{}) []interface{} {
		resp := call(t, ts, "getActiveOrders", params)
		require.Nil(t, resp.Error)
		return resp.Result.(map[string]interface{})["orders"].([]interface{})
	}

	assert.Len(t, list(nil), 3)
	assert.Len(t, list(map[string]interface{}{"limit": 1}), 1)
	assert.Len(t, list(map[string]interface{}{"offset": 2}), 1)
	assert.Len(t, list(map[string]interface{}{"srcChain": "ethereum"}), 3)
	assert.Len(t, list(map[string]interface{}{"srcChain": "polygon"}), 0)
	assert.Len(t, list(map[string]interface{}{"dstChain": "stellar", "limit": 2}), 2)
	assert.Len(t, list(map[string]interface{}{"statuses": []string{"BOTH_ACTIVE"}}), 3)
	assert.Len(t, list(map[string]interface{}{"statuses": []string{"COMPLETED"}}), 0)

	resp := call(t, ts, "getActiveOrders", map[string]interface{}{"statuses": []string{"NOT_A_STATUS"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestGetSecretsIndexAndRevealed(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp := call(t, ts, "submitOrder", submitParams("ord-s1"))
	require.Nil(t, resp.Error)

	// an explicit index reports its gate instead of silently skipping
	resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s1", "secretIndex": 1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "secret_not_releasable", resp.Error.Data)

	resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s1", "secretIndex": 99})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "fragment_not_found", resp.Error.Data)

	resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s1", "secretIndex": 0})
	require.Nil(t, resp.Error)
	secrets := resp.Result.(map[string]interface{})["secrets"].([]interface{})
	require.Len(t, secrets, 1)

	// fill fragment 0 so its secret is out of the releasable window
	_, err := srv.store.ApplyFill("ord-s1", 0, big.NewInt(200), "resolver-a", "0xtx")
	require.NoError(t, err)

	resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s1"})
	require.Nil(t, resp.Error)
	secrets = resp.Result.(map[string]interface{})["secrets"].([]interface{})
	require.Len(t, secrets, 1)
	assert.Equal(t, float64(1), secrets[0].(map[string]interface{})["index"])

	// includeRevealed adds back pre-images that already left
	resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s1", "includeRevealed": true})
	require.Nil(t, resp.Error)
	secrets = resp.Result.(map[string]interface{})["secrets"].([]interface{})
	require.Len(t, secrets, 2)
	assert.Equal(t, float64(0), secrets[0].(map[string]interface{})["index"])
	assert.Equal(t, float64(1), secrets[1].(map[string]interface{})["index"])
}

func TestSecretSharedAnnouncedOnce(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := call(t, ts, "submitOrder", submitParams("ord-s2"))
	require.Nil(t, resp.Error)

	// polling getSecrets twice hands out the same pre-image but
	// announces it once
	for i := 0; i < 2; i++ {
		resp = call(t, ts, "getSecrets", map[string]interface{}{"orderId": "ord-s2"})
		require.Nil(t, resp.Error)
	}

	resp = call(t, ts, "getEventHistory", map[string]interface{}{
		"events": []string{"secret_shared"},
	})
	require.Nil(t, resp.Error)
	events := resp.Result.(map[string]interface{})["events"].([]interface{})
	assert.Len(t, events, 1)
}

func TestGetEventHistory(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := call(t, ts, "submitOrder", submitParams("ord-5"))
	require.Nil(t, resp.Error)

	resp = call(t, ts, "getEventHistory", map[string]interface{}{
		"events": []string{"order_created"},
	})
	require.Nil(t, resp.Error)
	events := resp.Result.(map[string]interface{})["events"].([]interface{})
	require.Len(t, events, 1)

	resp = call(t, ts, "getEventHistory", map[string]interface{}{
		"events": []string{"bogus_event"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestGetStatistics(t *testing.T) {
	_, ts := newTestServer(t, nil)

	call(t, ts, "submitOrder", submitParams("ord-6"))
	resp := call(t, ts, "getStatistics", nil)
	require.Nil(t, resp.Error)

	stats := resp.Result.(map[string]interface{})
	orders := stats["orders"].(map[string]interface{})
	assert.Equal(t, float64(1), orders["BOTH_ACTIVE"])
}

func TestSubscribeRequiresWebsocket(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := call(t, ts, "subscribe", map[string]interface{}{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	cfg.RateWindow = time.Minute
	_, ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		resp := call(t, ts, "ping", nil)
		require.Nil(t, resp.Error)
	}

	resp := call(t, ts, "ping", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestSlidingWindowRecovers(t *testing.T) {
	sw := newSlidingWindow(time.Minute, 2)
	now := time.Unix(1_700_000_000, 0)
	sw.Now = func() time.Time { return now }

	assert.True(t, sw.Allow("client"))
	assert.True(t, sw.Allow("client"))
	assert.False(t, sw.Allow("client"))
	assert.True(t, sw.Allow("other"))

	// old calls fall out of the window
	now = now.Add(2 * time.Minute)
	assert.True(t, sw.Allow("client"))
}

func TestWebsocketSubscribePush(t *testing.T) {
	_, ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + RouteWS
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id":     1,
		"method": "subscribe",
		"params": map[string]interface{}{"events": []string{"order_created"}},
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var subResp Response
	require.NoError(t, conn.ReadJSON(&subResp))
	require.Nil(t, subResp.Error)
	subID := subResp.Result.(map[string]interface{})["subscriptionId"].(string)
	require.NotEmpty(t, subID)

	// an order submitted over HTTP is pushed to the ws subscriber
	resp := call(t, ts, "submitOrder", submitParams("ord-ws"))
	require.Nil(t, resp.Error)

	var pushed map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, "order_created", pushed["event"])
	data := pushed["data"].(map[string]interface{})
	assert.Equal(t, "ord-ws", data["orderId"])

	// unsubscribe stops the stream
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id":     2,
		"method": "unsubscribe",
		"params": map[string]interface{}{"subscriptionId": subID},
	}))
	var unsubResp Response
	require.NoError(t, conn.ReadJSON(&unsubResp))
	require.Nil(t, unsubResp.Error)
	assert.Equal(t, true, unsubResp.Result.(map[string]interface{})["removed"])
}

func TestWebsocketRPCMethods(t *testing.T) {
	_, ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + RouteWS
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": 7, "method": "ping"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestWebsocketRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 3
	cfg.RateWindow = time.Minute
	_, ts := newTestServer(t, cfg)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + RouteWS
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// the upgrade spent one slot; two messages pass, the third trips
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": i, "method": "ping"}))
		var resp Response
		require.NoError(t, conn.ReadJSON(&resp))
		require.Nil(t, resp.Error)
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": 9, "method": "ping"}))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestSubmitOrderWithAuction(t *testing.T) {
	_, ts := newTestServer(t, nil)

	p := submitParams("ord-auc")
	p["auction"] = map[string]interface{}{
		"duration":        120,
		"initialPrice":    "100",
		"endPrice":        "90",
		"initialRateBump": "0.05",
	}
	resp := call(t, ts, "submitOrder", p)
	require.Nil(t, resp.Error)

	order := resp.Result.(map[string]interface{})
	price, err := decimal.NewFromString(order["auctionPrice"].(string))
	require.NoError(t, err)
	assert.True(t, price.LessThanOrEqual(decimal.NewFromInt(105)))
	assert.True(t, price.GreaterThanOrEqual(decimal.NewFromInt(90)))

	resp = call(t, ts, "getEventHistory", map[string]interface{}{
		"events": []string{"recommendation_generated"},
	})
	require.Nil(t, resp.Error)
	events := resp.Result.(map[string]interface{})["events"].([]interface{})
	assert.Len(t, events, 1)

	bad := submitParams("ord-badauc")
	bad["auction"] = map[string]interface{}{
		"duration":     120,
		"initialPrice": "90",
		"endPrice":     "100",
	}
	resp = call(t, ts, "submitOrder", bad)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "auction_invalid", resp.Error.Data)
}
