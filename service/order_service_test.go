package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"fenrir/domain/engine"
	"fenrir/domain/orderbook"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
)

func newTestService(t *testing.T, walDir string) (*OrderService, *engine.MatchingEngine, *sequence.Sequencer) {
	t.Helper()

	w, err := wal.Open(wal.Config{Dir: walDir, SegmentSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	eng := engine.New()
	seq := sequence.New(0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewOrderService(eng, seq, w, nil, nil, logger)
	t.Cleanup(svc.Close)
	return svc, eng, seq
}

func TestPlaceOrderAssignsIDs(t *testing.T) {
	svc, _, _ := newTestService(t, t.TempDir())

	o1, _, err := svc.PlaceOrder(PlaceParams{
		Symbol: "BTC-USD", Side: orderbook.Sell, Type: orderbook.Limit,
		Price: 10000, Qty: 2, UserID: "bob",
	})
	require.NoError(t, err)

	o2, trades, err := svc.PlaceOrder(PlaceParams{
		Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
		Price: 10000, Qty: 1, UserID: "alice",
	})
	require.NoError(t, err)

	require.Greater(t, o2.ID, o1.ID, "ids must be strictly increasing")
	require.Len(t, trades, 1)
	require.Equal(t, int64(10000), trades[0].Price)
	require.Equal(t, orderbook.Filled, o2.Status)
}

func TestCancelAndModifyThroughService(t *testing.T) {
	svc, eng, _ := newTestService(t, t.TempDir())

	o, _, err := svc.PlaceOrder(PlaceParams{
		Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
		Price: 100, Qty: 5, UserID: "u",
	})
	require.NoError(t, err)

	ok, err := svc.ModifyOrder(o.ID, 101, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(101), eng.BestBid("BTC-USD"))

	ok, err = svc.CancelOrder(o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.CancelOrder(o.ID)
	require.NoError(t, err)
	require.False(t, ok, "second cancel must report false")
}

func TestReplayRebuildsState(t *testing.T) {
	walDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var restingID, cancelledID uint64
	{
		svc, _, _ := newTestService(t, walDir)

		rest, _, err := svc.PlaceOrder(PlaceParams{
			Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
			Price: 100, Qty: 5, UserID: "u",
		})
		require.NoError(t, err)
		restingID = rest.ID

		gone, _, err := svc.PlaceOrder(PlaceParams{
			Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
			Price: 99, Qty: 5, UserID: "u",
		})
		require.NoError(t, err)
		cancelledID = gone.ID
		_, err = svc.CancelOrder(cancelledID)
		require.NoError(t, err)

		// a matched pair leaves trade history but no resting state
		_, _, err = svc.PlaceOrder(PlaceParams{
			Symbol: "ETH-USD", Side: orderbook.Sell, Type: orderbook.Limit,
			Price: 50, Qty: 1, UserID: "bob",
		})
		require.NoError(t, err)
		_, trades, err := svc.PlaceOrder(PlaceParams{
			Symbol: "ETH-USD", Side: orderbook.Buy, Type: orderbook.Limit,
			Price: 50, Qty: 1, UserID: "alice",
		})
		require.NoError(t, err)
		require.Len(t, trades, 1)
	}

	// boot a fresh engine from the WAL
	eng := engine.New()
	seq := sequence.New(0)
	require.NoError(t, Replay(walDir, "", eng, seq, logger))

	_, found := eng.GetOrder(restingID)
	require.True(t, found, "resting order must survive replay")
	_, found = eng.GetOrder(cancelledID)
	require.False(t, found, "cancelled order must stay cancelled")

	require.Equal(t, int64(100), eng.BestBid("BTC-USD"))
	require.Equal(t, int64(0), eng.BestBid("ETH-USD"), "matched orders leave no resting state")
	require.Len(t, eng.GetUserTrades("alice"), 1, "trades are reproduced by replay")

	// new ids must continue after the replayed ones
	require.Greater(t, seq.Next(), cancelledID)
}

func TestReplayAppliesModify(t *testing.T) {
	walDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var id uint64
	{
		svc, _, _ := newTestService(t, walDir)
		o, _, err := svc.PlaceOrder(PlaceParams{
			Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
			Price: 100, Qty: 5, UserID: "u",
		})
		require.NoError(t, err)
		id = o.ID
		_, err = svc.ModifyOrder(id, 110, 5)
		require.NoError(t, err)
	}

	eng := engine.New()
	require.NoError(t, Replay(walDir, "", eng, sequence.New(0), logger))

	o, found := eng.GetOrder(id)
	require.True(t, found)
	require.Equal(t, int64(110), o.Price)
	require.Equal(t, int64(110), eng.BestBid("BTC-USD"))
}

func TestExpiredSweepThroughService(t *testing.T) {
	svc, eng, _ := newTestService(t, t.TempDir())

	_, _, err := svc.PlaceOrder(PlaceParams{
		Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit,
		Price: 100, Qty: 5, UserID: "u", Expiry: 1, // far in the past
	})
	require.NoError(t, err)

	require.Equal(t, 1, svc.CancelExpired())
	require.Equal(t, int64(0), eng.BestBid("BTC-USD"))
}
