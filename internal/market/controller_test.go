package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/feed"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
)

// 1_700_000_400 is a multiple of every sub-hour interval used below.
var testNow = time.Unix(1_700_000_400, 0)

type fetchReply struct {
	series models.CandleSeries
	err    error
}

type fetchCall struct {
	tf    models.Timeframe
	reply chan fetchReply
}

// mockHistory hands every fetch to the test, which answers it explicitly.
// It ignores cancellation so late answers can be delivered.
type mockHistory struct {
	calls chan fetchCall
}

func newMockHistory() *mockHistory { return &mockHistory{calls: make(chan fetchCall, 16)} }

func (h *mockHistory) FetchCandles(_ context.Context, _ string, tf models.Timeframe) (models.CandleSeries, error) {
	call := fetchCall{tf: tf, reply: make(chan fetchReply, 1)}
	h.calls <- call
	r := <-call.reply
	return r.series, r.err
}

func (h *mockHistory) next(t *testing.T) fetchCall {
	t.Helper()
	select {
	case c := <-h.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history fetch")
	}
	return fetchCall{}
}

type mockStream struct {
	sink    feed.Sink
	started atomic.Bool
	stopped atomic.Bool
}

func (s *mockStream) Start(context.Context) { s.started.Store(true) }
func (s *mockStream) Stop()                 { s.stopped.Store(true) }

type mockStreams struct {
	mu      sync.Mutex
	streams []*mockStream
}

func (m *mockStreams) factory(_ string, sink feed.Sink) Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &mockStream{sink: sink}
	m.streams = append(m.streams, s)
	return s
}

// get waits for the i-th stream. The loop creates it after starting the
// history fetch, so a test that has seen the fetch may still be early.
func (m *mockStreams) get(t *testing.T, i int) *mockStream {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		if i < len(m.streams) {
			s := m.streams[i]
			m.mu.Unlock()
			return s
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("stream %d was never created", i)
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *mockStreams) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

type fixture struct {
	ctrl    *Controller
	history *mockHistory
	streams *mockStreams
	snaps   chan Snapshot
}

func startController(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.ArtistID == "" {
		opts.ArtistID = "42"
	}
	f := &fixture{history: newMockHistory(), streams: &mockStreams{}, snaps: make(chan Snapshot, 1024)}
	f.ctrl = New(opts, f.history, f.streams.factory, nil).WithClock(func() time.Time { return testNow })
	unsubscribe := f.ctrl.Subscribe(func(s Snapshot) { f.snaps <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})
	return f
}

func (f *fixture) waitFor(t *testing.T, desc string, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-f.snaps:
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (last published: %+v)", desc, f.ctrl.Snapshot())
		}
	}
}

func inState(st State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == st }
}

func candle(start int64, price string) models.Candle {
	p := decimal.RequireFromString(price)
	return models.Candle{BucketStart: start, Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(10)}
}

func tradeAt(hash string, ts int64, price, amount string) feed.Event {
	return feed.Event{Kind: feed.EventTrade, Trade: models.TradeEvent{
		TxHash: hash, Timestamp: ts, Side: models.SideBuy,
		PriceUSD: decimal.RequireFromString(price), Amount: decimal.RequireFromString(amount),
	}}
}

// subscribed drives a fresh controller through its first load.
func (f *fixture) subscribed(t *testing.T, history models.CandleSeries) Snapshot {
	t.Helper()
	call := f.history.next(t)
	call.reply <- fetchReply{series: history}
	f.streams.get(t, 0).sink(feed.Event{Kind: feed.EventConnected})
	return f.waitFor(t, "subscribed", inState(StateSubscribed))
}

func TestController_InitialLoad(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m})

	call := f.history.next(t)
	if call.tf != models.Timeframe5m {
		t.Fatalf("fetched timeframe %s, want 5m", call.tf)
	}
	// Loading is published once both the fetch and the stream are started
	f.waitFor(t, "loading", inState(StateLoading))
	if !f.streams.get(t, 0).started.Load() || f.streams.count() != 1 {
		t.Fatal("stream should start together with the history fetch")
	}

	cutoff := testNow.Unix() - 7200
	call.reply <- fetchReply{series: models.CandleSeries{candle(cutoff-300, "0.01"), candle(cutoff, "0.02")}}
	f.streams.get(t, 0).sink(feed.Event{Kind: feed.EventConnected})

	snap := f.waitFor(t, "subscribed", inState(StateSubscribed))
	if len(snap.Series) != 2 {
		t.Fatalf("series length %d, want 2", len(snap.Series))
	}
	if snap.Generation != 1 || snap.Timeframe != models.Timeframe5m {
		t.Errorf("snapshot generation %d timeframe %s", snap.Generation, snap.Timeframe)
	}
}

func TestController_TradeMergedOnceDespiteRedelivery(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m})
	cutoff := testNow.Unix() - 7200
	f.subscribed(t, models.CandleSeries{candle(cutoff-300, "0.01")})

	sink := f.streams.get(t, 0).sink
	ts := testNow.Unix() - 10
	sink(tradeAt("0xa", ts, "0.03", "5"))
	sink(tradeAt("0xa", ts, "0.03", "5"))
	sink(tradeAt("0xb", ts, "0.04", "2"))

	snap := f.waitFor(t, "second trade", func(s Snapshot) bool {
		last, ok := s.Series.Last()
		return ok && last.Close.Equal(decimal.RequireFromString("0.04"))
	})
	last, _ := snap.Series.Last()
	if !last.Volume.Equal(decimal.NewFromInt(7)) {
		t.Errorf("volume %s, want 7 (duplicate applied?)", last.Volume)
	}
	if last.BucketStart != models.Timeframe5m.BucketStart(ts) {
		t.Errorf("bucket %d", last.BucketStart)
	}
	if len(snap.Series) != 2 || !snap.Series.StrictlyIncreasing() {
		t.Errorf("series not merged: %+v", snap.Series)
	}
}

func TestController_TimeframeChangeDiscardsOldGeneration(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m})
	f.subscribed(t, nil)
	old := f.streams.get(t, 0)

	if err := f.ctrl.SetTimeframe(context.Background(), models.Timeframe1m); err != nil {
		t.Fatalf("SetTimeframe: %v", err)
	}
	if !old.stopped.Load() {
		t.Fatal("old stream should be stopped before the new one starts")
	}
	call := f.history.next(t)
	if call.tf != models.Timeframe1m {
		t.Fatalf("refetch timeframe %s, want 1m", call.tf)
	}

	// late delivery from the old subscription
	ts := testNow.Unix() - 30
	old.sink(tradeAt("0xold", ts, "9", "1"))

	call.reply <- fetchReply{}
	f.streams.get(t, 1).sink(feed.Event{Kind: feed.EventConnected})
	snap := f.waitFor(t, "subscribed on 1m", func(s Snapshot) bool {
		return s.State == StateSubscribed && s.Timeframe == models.Timeframe1m
	})
	if snap.Generation != 2 {
		t.Errorf("generation %d, want 2", snap.Generation)
	}
	if len(snap.Series) != 0 {
		t.Errorf("old-generation trade leaked into new series: %+v", snap.Series)
	}
}

func TestController_SetTimeframeRejectsUnknown(t *testing.T) {
	f := startController(t, Options{})
	if err := f.ctrl.SetTimeframe(context.Background(), models.Timeframe("7m")); err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestController_ReconnectRefetchesHistory(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m})
	f.subscribed(t, nil)
	sink := f.streams.get(t, 0).sink

	sink(feed.Event{Kind: feed.EventDisconnected, Err: errors.New("eof")})
	f.waitFor(t, "reconnecting", inState(StateReconnecting))

	sink(feed.Event{Kind: feed.EventConnected})
	call := f.history.next(t)
	f.waitFor(t, "loading after reconnect", inState(StateLoading))

	missed := testNow.Unix() - 600
	call.reply <- fetchReply{series: models.CandleSeries{candle(missed, "0.05")}}
	snap := f.waitFor(t, "subscribed after refetch", inState(StateSubscribed))
	if len(snap.Series) != 1 || snap.Series[0].BucketStart != missed {
		t.Errorf("refetched history missing: %+v", snap.Series)
	}
}

func TestController_HistoryErrorRecoversOnRefresh(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m, RefreshInterval: 20 * time.Millisecond})

	f.streams.get(t, 0).sink(feed.Event{Kind: feed.EventConnected})
	f.history.next(t).reply <- fetchReply{err: errors.New("backend down")}
	snap := f.waitFor(t, "error", inState(StateError))
	if snap.Error == "" {
		t.Error("error snapshot should carry the message")
	}

	f.history.next(t).reply <- fetchReply{series: models.CandleSeries{candle(testNow.Unix()-300, "0.02")}}
	snap = f.waitFor(t, "subscribed after retry", inState(StateSubscribed))
	if snap.Error != "" || len(snap.Series) != 1 {
		t.Errorf("recovered snapshot: %+v", snap)
	}
}

func TestController_RefreshRepairsDoubleCountedBucket(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m, RefreshInterval: 20 * time.Millisecond})
	bucket := testNow.Unix() - 300
	history := models.CandleSeries{candle(bucket, "0.02")}
	f.subscribed(t, history)

	// the backend already counted 0xY when its live copy arrives
	f.streams.get(t, 0).sink(tradeAt("0xY", bucket+100, "0.02", "4"))
	f.waitFor(t, "double-counted bucket", func(s Snapshot) bool {
		last, ok := s.Series.Last()
		return ok && last.Volume.Equal(decimal.NewFromInt(14))
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case call := <-f.history.calls:
			call.reply <- fetchReply{series: history}
		case s := <-f.snaps:
			last, ok := s.Series.Last()
			if ok && s.State == StateSubscribed && last.Volume.Equal(decimal.NewFromInt(10)) {
				t.Logf("Bucket repaired by refresh: volume=%s", last.Volume)
				return
			}
		case <-deadline:
			t.Fatalf("refresh did not repair the bucket: %+v", f.ctrl.Snapshot().Series)
		}
	}
}

func TestController_StaleHistoryIgnored(t *testing.T) {
	f := startController(t, Options{Timeframe: models.Timeframe5m})
	first := f.history.next(t)

	if err := f.ctrl.SetTimeframe(context.Background(), models.Timeframe15m); err != nil {
		t.Fatal(err)
	}
	second := f.history.next(t)

	// the superseded fetch answers last-but-one
	first.reply <- fetchReply{series: models.CandleSeries{candle(testNow.Unix()-300, "1")}}
	second.reply <- fetchReply{}
	f.streams.get(t, 1).sink(feed.Event{Kind: feed.EventConnected})

	snap := f.waitFor(t, "subscribed on 15m", func(s Snapshot) bool {
		return s.State == StateSubscribed && s.Timeframe == models.Timeframe15m
	})
	if len(snap.Series) != 0 {
		t.Errorf("stale 5m history applied to 15m: %+v", snap.Series)
	}
}

func TestController_SubscribeGetsCurrentSnapshot(t *testing.T) {
	ctrl := New(Options{ArtistID: "7"}, newMockHistory(), (&mockStreams{}).factory, nil)
	var got []Snapshot
	unsubscribe := ctrl.Subscribe(func(s Snapshot) { got = append(got, s) })
	unsubscribe()

	if len(got) != 1 || got[0].State != StateIdle || got[0].ArtistID != "7" {
		t.Fatalf("initial snapshot: %+v", got)
	}
	if len(ctrl.observers) != 0 {
		t.Error("observer still registered after unsubscribe")
	}
}

type mockQuoter struct{ buys, sells int }

func (m *mockQuoter) QuoteBuy(context.Context, decimal.Decimal, decimal.Decimal, common.Address) (*quote.Quote, error) {
	m.buys++
	return &quote.Quote{Side: models.SideBuy, Tokens: big.NewInt(1)}, nil
}

func (m *mockQuoter) QuoteSell(context.Context, decimal.Decimal, decimal.Decimal, common.Address) (*quote.Quote, error) {
	m.sells++
	return &quote.Quote{Side: models.SideSell, Tokens: big.NewInt(1)}, nil
}

func TestController_QuotesPassThrough(t *testing.T) {
	q := &mockQuoter{}
	ctrl := New(Options{}, newMockHistory(), (&mockStreams{}).factory, q)
	user := common.HexToAddress("0x1")
	if _, err := ctrl.QuoteBuy(context.Background(), decimal.NewFromInt(10), decimal.NewFromInt(2), user); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.QuoteSell(context.Background(), decimal.NewFromInt(10), decimal.NewFromInt(2), user); err != nil {
		t.Fatal(err)
	}
	if q.buys != 1 || q.sells != 1 {
		t.Errorf("quoter calls: buys=%d sells=%d", q.buys, q.sells)
	}
}
