// Package feed subscribes to the backend's per-artist trade topic with a
// STOMP client running over a raw websocket and hands decoded trades to a
// sink.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventTrade
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTrade:
		return "trade"
	}
	return "unknown"
}

type Event struct {
	Kind  EventKind
	Trade models.TradeEvent
	Err   error
}

// Sink receives feed events on the subscriber's goroutine. It must not
// block; the market controller posts them to its own loop.
type Sink func(Event)

type Options struct {
	// HeartBeat is offered to the broker in both directions.
	HeartBeat time.Duration
	// HeartBeatGrace is added to the broker's heart-beat before a silent
	// connection counts as dead.
	HeartBeatGrace time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
}

var DefaultOptions = Options{
	HeartBeat:      10 * time.Second,
	HeartBeatGrace: 5 * time.Second,
	BaseDelay:      1 * time.Second,
	MaxDelay:       60 * time.Second,
	ConnectTimeout: 10 * time.Second,
}

// TopicFor is the destination the backend publishes an artist's trades on.
func TopicFor(artistID string) string {
	return "/topic/trades/" + artistID
}

// Subscriber keeps one STOMP subscription alive, reconnecting with
// exponential backoff until Stop.
type Subscriber struct {
	url      string
	artistID string
	token    string
	sink     Sink
	opts     Options

	mu     sync.Mutex
	ws     *websocket.Conn
	conn   *stomp.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubscriber(wsURL, artistID, token string, sink Sink, opts Options) *Subscriber {
	if opts.HeartBeat <= 0 {
		opts.HeartBeat = DefaultOptions.HeartBeat
	}
	if opts.HeartBeatGrace <= 0 {
		opts.HeartBeatGrace = DefaultOptions.HeartBeatGrace
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions.MaxDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions.ConnectTimeout
	}
	return &Subscriber{url: wsURL, artistID: artistID, token: token, sink: sink, opts: opts}
}

func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

// Stop closes the connection and waits for the loop to exit. No sink call
// happens after Stop returns.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}

func (s *Subscriber) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := s.connect(ctx)
		if err == nil {
			retry = 0
			s.sink(Event{Kind: EventConnected})
			err = s.readLoop(ctx, sub)
		}
		s.closeConnection()
		if ctx.Err() != nil {
			return
		}

		delay := backoff(retry, s.opts.BaseDelay, s.opts.MaxDelay)
		retry++
		slog.Warn("trade feed disconnected", "artist", s.artistID, "err", err, "retry", retry, "delay", delay)
		s.sink(Event{Kind: EventDisconnected, Err: tradeerr.Transport("trade feed", err)})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) (*stomp.Subscription, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.ConnectTimeout}
	header := make(http.Header)
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	ws, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	host := "/"
	if u, err := url.Parse(s.url); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	connOpts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(s.opts.HeartBeat, s.opts.HeartBeat),
		stomp.ConnOpt.HeartBeatError(s.opts.HeartBeatGrace),
	}
	if s.token != "" {
		connOpts = append(connOpts, stomp.ConnOpt.Header("Authorization", "Bearer "+s.token))
	}

	// Only the CONNECTED wait is bounded here. Afterwards the client
	// enforces whatever heart-beat the broker agreed to, which is none
	// when the broker answers 0,0.
	ws.SetReadDeadline(time.Now().Add(s.opts.ConnectTimeout))
	conn, err := stomp.Connect(newWSConn(ws, s.opts.ConnectTimeout), connOpts...)
	if err != nil {
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	ws.SetReadDeadline(time.Time{})
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	sub, err := conn.Subscribe(TopicFor(s.artistID), stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	slog.Info("trade feed connected", "artist", s.artistID, "topic", TopicFor(s.artistID))
	return sub, nil
}

func (s *Subscriber) readLoop(ctx context.Context, sub *stomp.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return errors.New("subscription closed")
			}
			if msg.Err != nil {
				return fmt.Errorf("read: %w", msg.Err)
			}
			ev, err := ParseTrade(msg.Body)
			if err != nil {
				slog.Warn("trade feed: message dropped", "err", err)
				continue
			}
			s.sink(Event{Kind: EventTrade, Trade: ev})
		}
	}
}

func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.MustDisconnect()
		s.conn = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
}

// backoff doubles from base per retry, capped at maxDelay.
func backoff(retry int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 0; i < retry && d < maxDelay; i++ {
		d *= 2
	}
	return min(d, maxDelay)
}
