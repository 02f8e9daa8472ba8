package aster

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.DefaultConfig("BTCUSDT").
		WithCredentials(&core.Credentials{APIKey: "key", SecretKey: "secret"}).
		WithEndpoints(srv.URL, "ws://unused")
	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func mustDecimal(t *testing.T, s string) apd.Decimal {
	t.Helper()
	var d apd.Decimal
	_, _, err := apd.BaseContext.SetString(&d, s)
	require.NoError(t, err)
	return d
}

func TestClient_OpenOrders(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/openOrders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.NotEmpty(t, q.Get("signature"))
		assert.NotEmpty(t, q.Get("timestamp"))

		_, _ = w.Write([]byte(`[
			{"orderId": 1, "symbol": "BTCUSDT", "status": "NEW", "type": "LIMIT",
			 "side": "BUY", "price": "42000.0", "origQty": "0.010", "time": 1700000000000},
			{"orderId": 2, "symbol": "BTCUSDT", "status": "PARTIALLY_FILLED", "type": "STOP_MARKET",
			 "side": "SELL", "stopPrice": "41000.0", "origQty": "0.010", "time": 1700000001000}
		]`))
	})

	orders, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, core.TypeLimit, orders[0].Type)
	assert.Equal(t, "42000.0", orders[0].Price.String())
	assert.Equal(t, core.StatusPartiallyFilled, orders[1].Status)
	assert.Equal(t, core.TypeStopMarket, orders[1].Type)
}

func TestClient_CreateOrder(t *testing.T) {
	var form url.Values
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var err error
		form, err = url.ParseQuery(string(raw))
		require.NoError(t, err)

		_, _ = w.Write([]byte(`{
			"orderId": 99, "clientOrderId": "cid-1", "symbol": "BTCUSDT",
			"status": "NEW", "type": "LIMIT", "side": "BUY",
			"price": "42000.5", "origQty": "0.010", "updateTime": 1700000002000
		}`))
	})

	order, err := client.CreateOrder(context.Background(), &OrderRequest{
		Side:          core.SideBuy,
		Type:          core.TypeLimit,
		Quantity:      mustDecimal(t, "0.010"),
		Price:         mustDecimal(t, "42000.5"),
		TimeInForce:   core.GTC,
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), order.OrderID)
	assert.Equal(t, core.StatusNew, order.Status)

	assert.Equal(t, "BTCUSDT", form.Get("symbol"))
	assert.Equal(t, "BUY", form.Get("side"))
	assert.Equal(t, "LIMIT", form.Get("type"))
	assert.Equal(t, "42000.5", form.Get("price"))
	assert.Equal(t, "GTC", form.Get("timeInForce"))
	assert.Equal(t, "cid-1", form.Get("newClientOrderId"))
	assert.NotEmpty(t, form.Get("signature"))
}

func TestOrderRequest_ConditionalValues(t *testing.T) {
	req := &OrderRequest{
		Side:          core.SideSell,
		Type:          core.TypeStopMarket,
		StopPrice:     mustDecimal(t, "41000.0"),
		ClosePosition: true,
	}
	params := req.values("BTCUSDT")

	assert.Equal(t, "STOP_MARKET", params.Get("type"))
	assert.Equal(t, "41000.0", params.Get("stopPrice"))
	assert.Equal(t, "true", params.Get("closePosition"))
	// A close-position stop carries neither quantity nor price.
	assert.Empty(t, params.Get("quantity"))
	assert.Empty(t, params.Get("price"))
	assert.Empty(t, params.Get("timeInForce"))
}

func TestClient_Account(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/account", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"canTrade": true,
			"totalWalletBalance": "1000.00",
			"availableBalance": "950.00",
			"updateTime": 1700000000000,
			"assets": [{"asset": "USDT", "walletBalance": "1000.00", "availableBalance": "950.00"}],
			"positions": [{"symbol": "BTCUSDT", "positionSide": "BOTH", "positionAmt": "0.005",
			               "entryPrice": "43000.0", "leverage": "10"}]
		}`))
	})

	snap, err := client.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.CanTrade)
	require.NotNil(t, snap.FindAsset("USDT"))
	pos := snap.FindPosition("BTCUSDT", core.PositionBoth)
	require.NotNil(t, pos)
	assert.Equal(t, "0.005", pos.PositionAmt.String())
}

func TestClient_ListenKeyLifecycle(t *testing.T) {
	var methods []string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/listenKey", r.URL.Path)
		methods = append(methods, r.Method)
		_, _ = w.Write([]byte(`{"listenKey":"abc123"}`))
	})

	key, err := client.CreateListenKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
	require.NoError(t, client.KeepAliveListenKey(context.Background()))
	require.NoError(t, client.CloseListenKey(context.Background()))

	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func TestClient_CancelOrders_Batch(t *testing.T) {
	var form url.Values
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/fapi/v1/batchOrders", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(raw))
		_, _ = w.Write([]byte(`[]`))
	})

	require.NoError(t, client.CancelOrders(context.Background(), []int64{11, 22, 33}))
	assert.Equal(t, "[11,22,33]", form.Get("orderIdList"))

	// Empty batch never hits the network.
	require.NoError(t, client.CancelOrders(context.Background(), nil))
}

func TestClient_Klines(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1m", q.Get("interval"))
		assert.Equal(t, "100", q.Get("limit"))
		_, _ = w.Write([]byte(`[
			[1700000000000, "43000.0", "43002.0", "42999.0", "43001.5", "15.2",
			 1700000059999, "653000.1", 320, "8.0", "344000.0", "0"],
			[1700000060000, "43001.5", "43010.0", "43001.0", "43009.0", "11.1",
			 1700000119999, "478000.0", 210, "5.5", "236000.0", "0"]
		]`))
	})

	klines, err := client.Klines(context.Background(), "1m", 100)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700000000000), klines[0].OpenTime)
	assert.Equal(t, "43009.0", klines[1].Close.String())
}

func TestClient_SignedWithoutCredentials(t *testing.T) {
	cfg := core.DefaultConfig("BTCUSDT").WithEndpoints("http://localhost:1", "ws://unused")
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Account(context.Background())
	assert.ErrorIs(t, err, core.ErrNoCredentials)
}
