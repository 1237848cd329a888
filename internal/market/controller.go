// Package market owns the live chart for one artist: it loads history,
// keeps the trade feed subscribed, folds trades into candles and publishes
// the merged series to observers.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/candles"
	"github.com/kjannette/shares-trader/internal/feed"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
)

const historyTimeout = 15 * time.Second

// HistorySource is satisfied by *external.BackendClient and
// *repository.CandleRepo.
type HistorySource interface {
	FetchCandles(ctx context.Context, artistID string, tf models.Timeframe) (models.CandleSeries, error)
}

// Stream is one live subscription; *feed.Subscriber satisfies it.
type Stream interface {
	Start(ctx context.Context)
	Stop()
}

type StreamFactory func(artistID string, sink feed.Sink) Stream

// Quoter is satisfied by *quote.Engine.
type Quoter interface {
	QuoteBuy(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error)
	QuoteSell(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error)
}

// Snapshot is an immutable copy of what the chart should show.
type Snapshot struct {
	ArtistID   string              `json:"artistId"`
	Timeframe  models.Timeframe    `json:"timeframe"`
	State      State               `json:"state"`
	Generation uint64              `json:"generation"`
	Series     models.CandleSeries `json:"candles"`
	Error      string              `json:"error,omitempty"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// Observer is called on the controller's loop for every published
// snapshot. It must return quickly.
type Observer func(Snapshot)

type Options struct {
	ArtistID        string
	Timeframe       models.Timeframe
	Window          time.Duration
	RefreshInterval time.Duration
	DedupCapacity   int
}

type Controller struct {
	opts    Options
	history HistorySource
	streams StreamFactory
	quoter  Quoter
	now     func() time.Time
	events  chan any

	// owned by the Run loop
	tf          models.Timeframe
	state       State
	gen         uint64
	fetchID     uint64
	fetchCancel context.CancelFunc
	agg         *candles.Aggregator
	historical  models.CandleSeries
	stream      Stream
	streamStop  context.CancelFunc
	streamUp    bool
	historyOK   bool
	needRefetch bool
	lastErr     error

	mu        sync.RWMutex
	snapshot  Snapshot
	observers map[int]Observer
	nextObs   int
}

type selectTimeframe struct {
	tf    models.Timeframe
	reply chan struct{}
}

type historyLoaded struct {
	gen, fetchID uint64
	series       models.CandleSeries
	err          error
}

type feedEvent struct {
	gen uint64
	ev  feed.Event
}

func New(opts Options, history HistorySource, streams StreamFactory, quoter Quoter) *Controller {
	if opts.Window <= 0 {
		opts.Window = candles.DefaultRealtimeWindow
	}
	if !opts.Timeframe.Valid() {
		opts.Timeframe = models.Timeframe5m
	}
	return &Controller{
		opts:      opts,
		history:   history,
		streams:   streams,
		quoter:    quoter,
		now:       time.Now,
		events:    make(chan any, 256),
		state:     StateIdle,
		observers: make(map[int]Observer),
		snapshot:  Snapshot{ArtistID: opts.ArtistID, Timeframe: opts.Timeframe, State: StateIdle},
	}
}

// WithClock replaces the wall clock, for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Run drives the controller until ctx is cancelled. All candle state is
// touched only from this goroutine.
func (c *Controller) Run(ctx context.Context) error {
	c.startSelection(ctx, c.opts.Timeframe)
	defer c.teardown()

	var tick <-chan time.Time
	if c.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(c.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			c.refresh(ctx)
		case msg := <-c.events:
			switch m := msg.(type) {
			case selectTimeframe:
				if m.tf != c.tf || c.state == StateError {
					c.startSelection(ctx, m.tf)
				}
				close(m.reply)
			case historyLoaded:
				c.onHistory(m)
			case feedEvent:
				c.onFeed(ctx, m)
			}
		}
	}
}

// SetTimeframe switches the chart. Live state for the old timeframe is
// discarded, history is refetched and the feed resubscribed.
func (c *Controller) SetTimeframe(ctx context.Context, tf models.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("unsupported timeframe: %s", tf)
	}
	reply := make(chan struct{})
	select {
	case c.events <- selectTimeframe{tf: tf, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe registers obs and immediately sends it the current snapshot.
// The returned func unregisters it.
func (c *Controller) Subscribe(obs Observer) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = obs
	snap := c.snapshot
	c.mu.Unlock()

	obs(snap)
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) QuoteBuy(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error) {
	return c.quoter.QuoteBuy(ctx, usdAmount, slippagePct, user)
}

func (c *Controller) QuoteSell(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error) {
	return c.quoter.QuoteSell(ctx, usdAmount, slippagePct, user)
}

// --- loop internals ---

func (c *Controller) startSelection(ctx context.Context, tf models.Timeframe) {
	c.stopStream()
	c.cancelFetch()

	c.gen++
	c.tf = tf
	c.agg = candles.NewAggregator(c.opts.DedupCapacity)
	c.historical = nil
	c.streamUp, c.historyOK, c.needRefetch = false, false, false
	c.lastErr = nil
	c.transition(StateLoading)

	slog.Info("market selection", "artist", c.opts.ArtistID, "timeframe", tf, "generation", c.gen)

	c.startFetch(ctx)

	// The sink gives up once the stream is stopped so Stop never waits on
	// a send this loop is not going to receive.
	sctx, cancel := context.WithCancel(ctx)
	c.streamStop = cancel
	gen := c.gen
	c.stream = c.streams(c.opts.ArtistID, func(ev feed.Event) {
		select {
		case c.events <- feedEvent{gen: gen, ev: ev}:
		case <-sctx.Done():
		}
	})
	c.stream.Start(sctx)
	c.publish()
}

func (c *Controller) startFetch(ctx context.Context) {
	c.cancelFetch()
	c.fetchID++
	fctx, cancel := context.WithTimeout(ctx, historyTimeout)
	c.fetchCancel = cancel

	gen, id, tf := c.gen, c.fetchID, c.tf
	go func() {
		defer cancel()
		series, err := c.history.FetchCandles(fctx, c.opts.ArtistID, tf)
		select {
		case c.events <- historyLoaded{gen: gen, fetchID: id, series: series, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onHistory(m historyLoaded) {
	if m.gen != c.gen || m.fetchID != c.fetchID {
		slog.Debug("stale history result ignored", "generation", m.gen, "current", c.gen)
		return
	}
	c.fetchCancel = nil

	if m.err != nil {
		if errors.Is(m.err, context.Canceled) {
			return
		}
		if c.historyOK {
			// a failed refresh keeps the series already on screen
			slog.Warn("history refresh failed", "artist", c.opts.ArtistID, "timeframe", c.tf, "err", m.err)
			return
		}
		slog.Error("history fetch failed", "artist", c.opts.ArtistID, "timeframe", c.tf, "err", m.err)
		c.lastErr = m.err
		c.transition(StateError)
		c.publish()
		return
	}

	c.historical = m.series
	c.historyOK = true
	c.lastErr = nil

	cutoff := candles.Cutoff(c.now(), c.opts.Window, c.tf)
	var recent models.CandleSeries
	for _, h := range m.series {
		if h.BucketStart >= cutoff {
			recent = append(recent, h)
		}
	}
	c.agg.Seed(c.tf, recent)
	c.agg.Prune(c.tf, cutoff)

	switch {
	case c.streamUp:
		c.transition(StateSubscribed)
	case c.needRefetch:
		c.transition(StateReconnecting)
	default:
		c.transition(StateLoading)
	}
	c.publish()
}

func (c *Controller) onFeed(ctx context.Context, m feedEvent) {
	if m.gen != c.gen {
		return
	}
	switch m.ev.Kind {
	case feed.EventConnected:
		c.streamUp = true
		if c.needRefetch {
			// trades may have been missed while down
			c.needRefetch = false
			c.historyOK = false
			c.transition(StateLoading)
			c.startFetch(ctx)
		} else if c.historyOK {
			c.transition(StateSubscribed)
		}
		c.publish()
	case feed.EventDisconnected:
		c.streamUp = false
		c.needRefetch = true
		c.transition(StateReconnecting)
		c.publish()
	case feed.EventTrade:
		if _, applied := c.agg.Ingest(m.ev.Trade, c.tf); applied {
			c.publish()
		}
	}
}

func (c *Controller) refresh(ctx context.Context) {
	switch c.state {
	case StateSubscribed:
		c.agg.Prune(c.tf, candles.Cutoff(c.now(), c.opts.Window, c.tf))
		c.startFetch(ctx)
	case StateError:
		c.transition(StateLoading)
		c.startFetch(ctx)
		c.publish()
	}
}

func (c *Controller) transition(next State) {
	if next == c.state {
		return
	}
	if !c.state.CanTransition(next) {
		slog.Error("invalid market state transition", "from", c.state, "to", next)
		return
	}
	slog.Debug("market state", "from", c.state, "to", next, "generation", c.gen)
	c.state = next
}

func (c *Controller) publish() {
	cutoff := candles.Cutoff(c.now(), c.opts.Window, c.tf)
	snap := Snapshot{
		ArtistID:   c.opts.ArtistID,
		Timeframe:  c.tf,
		State:      c.state,
		Generation: c.gen,
		Series:     candles.Merge(c.historical, c.agg.Series(c.tf), cutoff),
		UpdatedAt:  c.now(),
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}

	c.mu.Lock()
	c.snapshot = snap
	observers := make([]Observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

func (c *Controller) stopStream() {
	if c.streamStop != nil {
		c.streamStop()
		c.streamStop = nil
	}
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}

func (c *Controller) cancelFetch() {
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
}

func (c *Controller) teardown() {
	c.stopStream()
	c.cancelFetch()
	c.transition(StateIdle)
	c.publish()
}
