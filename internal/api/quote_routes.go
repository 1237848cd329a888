package api

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// quoteResponse renders wei amounts as decimal strings; JSON numbers cannot
// carry 18-decimal integers.
type quoteResponse struct {
	ID              string          `json:"id"`
	Side            models.Side     `json:"side"`
	User            string          `json:"user"`
	USDAmount       decimal.Decimal `json:"usdAmount"`
	SlippagePercent decimal.Decimal `json:"slippagePercent"`
	Tokens          string          `json:"tokensWei"`
	TokensFormatted decimal.Decimal `json:"tokens"`
	ETH             string          `json:"ethWei"`
	ETHFormatted    decimal.Decimal `json:"eth"`
	Fee             string          `json:"feeWei"`
	MinBound        string          `json:"minBoundWei"`
	Capped          bool            `json:"capped"`
	CapReason       string          `json:"capReason,omitempty"`
	PriceUSD        decimal.Decimal `json:"priceUsd"`
	PriceEstimated  bool            `json:"priceEstimated"`
	EthUSD          decimal.Decimal `json:"ethUsd"`
	TradeUSD        decimal.Decimal `json:"tradeUsd"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
}

func toQuoteResponse(q *quote.Quote, ttl time.Duration) quoteResponse {
	return quoteResponse{
		ID:              q.ID,
		Side:            q.Side,
		User:            q.User.Hex(),
		USDAmount:       q.USDAmount,
		SlippagePercent: q.SlippagePct,
		Tokens:          weiString(q.Tokens),
		TokensFormatted: models.FromWei(q.Tokens),
		ETH:             weiString(q.ETH),
		ETHFormatted:    models.FromWei(q.ETH),
		Fee:             weiString(q.Fee),
		MinBound:        weiString(q.MinBound),
		Capped:          q.Capped,
		CapReason:       string(q.CapReason),
		PriceUSD:        q.PriceUSD,
		PriceEstimated:  q.PriceEstimated,
		EthUSD:          q.EthUSD,
		TradeUSD:        q.TradeUSD,
		CreatedAt:       q.CreatedAt.UTC(),
		ExpiresAt:       q.CreatedAt.Add(ttl).UTC(),
	}
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type quoteFunc func(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error)

func (s *Server) handleQuoteBuy(w http.ResponseWriter, r *http.Request) {
	s.serveQuote(w, r, s.deps.Market.QuoteBuy)
}

func (s *Server) handleQuoteSell(w http.ResponseWriter, r *http.Request) {
	s.serveQuote(w, r, s.deps.Market.QuoteSell)
}

func (s *Server) serveQuote(w http.ResponseWriter, r *http.Request, fn quoteFunc) {
	q := r.URL.Query()
	usd, err := decimal.NewFromString(q.Get("usd"))
	if err != nil {
		writeTradeError(w, r, &tradeerr.InvalidInputError{Field: "usd", Reason: "not a number"})
		return
	}
	slippage, err := parseDecimal(q.Get("slippage"), s.opts.DefaultSlippage)
	if err != nil {
		writeTradeError(w, r, &tradeerr.InvalidInputError{Field: "slippage", Reason: "not a number"})
		return
	}
	user, ok := parseAddress(q.Get("address"))
	if !ok {
		writeTradeError(w, r, &tradeerr.InvalidInputError{Field: "address", Reason: "not a hex address"})
		return
	}

	qt, err := fn(r.Context(), usd, slippage, user)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}
	s.quotes.Put(qt)
	writeJSON(w, http.StatusOK, toQuoteResponse(qt, s.opts.QuoteTTL))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "submission_disabled", "no signing key configured")
		return
	}
	id := r.PathValue("id")
	qt, ok := s.quotes.Take(id)
	if !ok {
		writeTradeError(w, r, &tradeerr.StaleQuoteError{QuoteID: id, Reason: "unknown or expired quote"})
		return
	}

	res, err := s.deps.Submitter.Submit(r.Context(), qt)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// quoteStore keeps issued quotes until they are submitted or expire, so a
// client can only submit terms this process actually quoted.
type quoteStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	quotes map[string]*quote.Quote
}

func newQuoteStore(ttl time.Duration) *quoteStore {
	return &quoteStore{ttl: ttl, now: time.Now, quotes: make(map[string]*quote.Quote)}
}

func (qs *quoteStore) Put(q *quote.Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.prune()
	qs.quotes[q.ID] = q
}

// Take removes and returns the quote; a second Take of the same ID fails.
func (qs *quoteStore) Take(id string) (*quote.Quote, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.prune()
	q, ok := qs.quotes[id]
	if ok {
		delete(qs.quotes, id)
	}
	return q, ok
}

func (qs *quoteStore) prune() {
	now := qs.now()
	for id, q := range qs.quotes {
		if q.Age(now) > qs.ttl {
			delete(qs.quotes, id)
		}
	}
}
