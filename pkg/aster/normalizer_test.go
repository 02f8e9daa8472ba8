package aster

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestParseEvent_OrderUpdate(t *testing.T) {
	frame := []byte(`{
		"e": "ORDER_TRADE_UPDATE",
		"E": 1700000001000,
		"T": 1700000000999,
		"o": {
			"s": "BTCUSDT",
			"c": "web_abc123",
			"S": "SELL",
			"o": "MARKET",
			"f": "GTC",
			"q": "0.005",
			"p": "0",
			"ap": "43000.5",
			"sp": "0",
			"x": "TRADE",
			"X": "FILLED",
			"i": 8886774,
			"z": "0.005",
			"T": 1700000000999,
			"R": false,
			"ot": "MARKET",
			"ps": "BOTH",
			"cp": false
		}
	}`)

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	update, ok := ev.(*OrderUpdateEvent)
	require.True(t, ok)

	assert.Equal(t, int64(1700000001000), update.EventTime)
	order := update.Order
	assert.Equal(t, int64(8886774), order.OrderID)
	assert.Equal(t, "web_abc123", order.ClientOrderID)
	assert.Equal(t, core.SideSell, order.Side)
	assert.Equal(t, core.TypeMarket, order.Type)
	assert.Equal(t, core.StatusFilled, order.Status)
	assert.Equal(t, "0.005", order.ExecutedQty.String())
	assert.Equal(t, "43000.5", order.AvgPrice.String())
	assert.Equal(t, int64(1700000000999), order.EffectiveUpdateTime())
}

func TestParseEvent_AccountUpdate(t *testing.T) {
	frame := []byte(`{
		"e": "ACCOUNT_UPDATE",
		"E": 1700000002000,
		"T": 1700000001999,
		"a": {
			"m": "ORDER",
			"B": [{"a": "USDT", "wb": "1000.50", "cw": "1000.50", "bc": "-2.5"}],
			"P": [{"s": "BTCUSDT", "pa": "0.005", "ep": "43000.5", "up": "1.25", "mt": "cross", "ps": "BOTH"}]
		}
	}`)

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	update, ok := ev.(*AccountUpdateEvent)
	require.True(t, ok)

	assert.Equal(t, "ORDER", update.Reason)
	require.Len(t, update.Balances, 1)
	assert.Equal(t, "USDT", update.Balances[0].Asset)
	assert.Equal(t, "1000.50", update.Balances[0].WalletBalance.String())
	require.Len(t, update.Positions, 1)
	assert.Equal(t, core.PositionBoth, update.Positions[0].PositionSide)
	assert.Equal(t, "0.005", update.Positions[0].PositionAmt.String())
}

func TestParseEvent_Depth(t *testing.T) {
	frame := []byte(`{
		"e": "depthUpdate",
		"E": 1700000003000,
		"T": 1700000002999,
		"s": "BTCUSDT",
		"U": 100,
		"u": 105,
		"pu": 99,
		"b": [["43000.1", "1.5"], ["43000.0", "2.0"]],
		"a": [["43000.2", "0.7"]]
	}`)

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	depth, ok := ev.(*core.Depth)
	require.True(t, ok)

	assert.Equal(t, "BTCUSDT", depth.Symbol)
	assert.Equal(t, int64(100), depth.FirstUpdateID)
	assert.Equal(t, int64(105), depth.LastUpdateID)
	require.Len(t, depth.Bids, 2)
	assert.Equal(t, "43000.1", depth.Bids[0].Price.String())
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, "0.7", depth.Asks[0].Quantity.String())
}

func TestParseEvent_MiniTicker(t *testing.T) {
	frame := []byte(`{
		"e": "24hrMiniTicker",
		"E": 1700000004000,
		"s": "BTCUSDT",
		"c": "43001.2",
		"o": "42000.0",
		"h": "43500.0",
		"l": "41900.0",
		"v": "1200.5",
		"q": "51000000.25"
	}`)

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	ticker, ok := ev.(*core.Ticker)
	require.True(t, ok)

	assert.Equal(t, "43001.2", ticker.LastPrice.String())
	assert.Equal(t, int64(1700000004000), ticker.EventTime)
	// Fields the mini ticker omits stay zero.
	assert.True(t, ticker.PriceChange.IsZero())
	assert.Zero(t, ticker.Count)
}

func TestParseEvent_Kline(t *testing.T) {
	frame := []byte(`{
		"e": "kline",
		"E": 1700000005000,
		"s": "BTCUSDT",
		"k": {
			"t": 1700000000000,
			"T": 1700000059999,
			"s": "BTCUSDT",
			"i": "1m",
			"o": "43000.0",
			"c": "43001.5",
			"h": "43002.0",
			"l": "42999.0",
			"v": "15.2",
			"n": 320,
			"x": false,
			"q": "653000.1",
			"V": "8.0",
			"Q": "344000.0"
		}
	}`)

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	kline, ok := ev.(*core.Kline)
	require.True(t, ok)

	assert.Equal(t, int64(1700000000000), kline.OpenTime)
	assert.Equal(t, "1m", kline.Interval)
	assert.Equal(t, "43001.5", kline.Close.String())
	assert.False(t, kline.Closed)
	assert.Equal(t, int64(320), kline.Trades)
}

func TestParseEvent_ListenKeyExpired(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"e":"listenKeyExpired","E":1700000006000}`))
	require.NoError(t, err)
	expired, ok := ev.(*ListenKeyExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1700000006000), expired.EventTime)
}

func TestParseEvent_EnvelopeKeyOrder(t *testing.T) {
	// The stream keys the type under "e" and the event time under "E".
	// Each must resolve to its own field regardless of key order; a
	// case-insensitive fallback would decode the number into the string.
	ev, err := ParseEvent([]byte(`{"E":1700000007000,"e":"listenKeyExpired"}`))
	require.NoError(t, err)
	expired, ok := ev.(*ListenKeyExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1700000007000), expired.EventTime)
}

func TestParseEvent_IgnoresAcksAndUnknown(t *testing.T) {
	for _, frame := range []string{
		`{"result":null,"id":1}`,
		`{"e":"someFutureEvent","E":1}`,
	} {
		ev, err := ParseEvent([]byte(frame))
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestOrderFromREST_OrigTypeWins(t *testing.T) {
	var raw asterOrder
	require.NoError(t, sonic.Unmarshal([]byte(`{
		"orderId": 42,
		"clientOrderId": "sl-1",
		"symbol": "BTCUSDT",
		"status": "NEW",
		"price": "0",
		"stopPrice": "42500.0",
		"origQty": "0.005",
		"type": "MARKET",
		"origType": "STOP_MARKET",
		"side": "SELL",
		"positionSide": "BOTH",
		"closePosition": true,
		"time": 1700000000000,
		"updateTime": 1700000000500
	}`), &raw))

	order := orderFromREST(&raw)
	assert.Equal(t, core.TypeStopMarket, order.Type)
	assert.True(t, order.ClosePosition)
	assert.Equal(t, "42500.0", order.StopPrice.String())
	assert.Equal(t, int64(1700000000500), order.EffectiveUpdateTime())
}

func TestKlineFromREST(t *testing.T) {
	payload := []byte(`[
		[1700000000000, "43000.0", "43002.0", "42999.0", "43001.5", "15.2",
		 1700000059999, "653000.1", 320, "8.0", "344000.0", "0"]
	]`)
	var raw []asterKline
	require.NoError(t, sonic.Unmarshal(payload, &raw))
	require.Len(t, raw, 1)

	k, err := klineFromREST(raw[0], "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), k.OpenTime)
	assert.Equal(t, int64(1700000059999), k.CloseTime)
	assert.Equal(t, "43001.5", k.Close.String())
	assert.Equal(t, int64(320), k.Trades)
	assert.True(t, k.Closed)

	_, err = klineFromREST(asterKline{1.0, "2"}, "BTCUSDT", "1m")
	assert.Error(t, err)
}

func TestKline_RESTAndPushProduceSameRecord(t *testing.T) {
	// The same closed candle arrives positionally over HTTP and as a keyed
	// push object. Both paths must normalize to an identical record so the
	// series upsert on open time is idempotent across sources.
	restPayload := []byte(`[
		[1700000000000, "43000.0", "43002.0", "42999.0", "43001.5", "15.2",
		 1700000059999, "653000.1", 320, "8.0", "344000.0", "0"]
	]`)
	var raw []asterKline
	require.NoError(t, sonic.Unmarshal(restPayload, &raw))
	require.Len(t, raw, 1)
	fromREST, err := klineFromREST(raw[0], "BTCUSDT", "1m")
	require.NoError(t, err)

	pushFrame := []byte(`{
		"e": "kline",
		"E": 1700000060000,
		"s": "BTCUSDT",
		"k": {
			"t": 1700000000000,
			"T": 1700000059999,
			"s": "BTCUSDT",
			"i": "1m",
			"o": "43000.0",
			"c": "43001.5",
			"h": "43002.0",
			"l": "42999.0",
			"v": "15.2",
			"n": 320,
			"x": true,
			"q": "653000.1",
			"V": "8.0",
			"Q": "344000.0"
		}
	}`)
	ev, err := ParseEvent(pushFrame)
	require.NoError(t, err)
	fromPush, ok := ev.(*core.Kline)
	require.True(t, ok)

	assert.Equal(t, fromREST.Symbol, fromPush.Symbol)
	assert.Equal(t, fromREST.Interval, fromPush.Interval)
	assert.Equal(t, fromREST.OpenTime, fromPush.OpenTime)
	assert.Equal(t, fromREST.CloseTime, fromPush.CloseTime)
	assert.Equal(t, fromREST.Trades, fromPush.Trades)
	assert.Equal(t, fromREST.Closed, fromPush.Closed)
	assert.Zero(t, fromREST.Open.Cmp(&fromPush.Open))
	assert.Zero(t, fromREST.High.Cmp(&fromPush.High))
	assert.Zero(t, fromREST.Low.Cmp(&fromPush.Low))
	assert.Zero(t, fromREST.Close.Cmp(&fromPush.Close))
	assert.Zero(t, fromREST.Volume.Cmp(&fromPush.Volume))
	assert.Zero(t, fromREST.QuoteVolume.Cmp(&fromPush.QuoteVolume))
	assert.Zero(t, fromREST.TakerBuyVolume.Cmp(&fromPush.TakerBuyVolume))
	assert.Zero(t, fromREST.TakerBuyQuoteVolume.Cmp(&fromPush.TakerBuyQuoteVolume))
}
