package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

type limitsResponse struct {
	Address   string               `json:"address"`
	Daily     risk.DailyLimitState `json:"daily"`
	Remaining decimal.Decimal      `json:"dailyRemainingUsd"`
	Cooldown  cooldownResponse     `json:"cooldown"`
}

type cooldownResponse struct {
	Active           bool  `json:"active"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeTradeError(w, r, &tradeerr.InvalidInputError{Field: "address", Reason: "not a hex address"})
		return
	}

	var (
		daily     risk.DailyLimitState
		remaining time.Duration
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		daily, err = s.deps.Limits.DailyLimitState(ctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		remaining, err = s.deps.Limits.CooldownRemaining(ctx, user)
		return err
	})
	if err := g.Wait(); err != nil {
		writeTradeError(w, r, err)
		return
	}

	secs := (&tradeerr.CooldownActiveError{Remaining: remaining}).RemainingSeconds()
	writeJSON(w, http.StatusOK, limitsResponse{
		Address:   user.Hex(),
		Daily:     daily,
		Remaining: daily.Remaining(),
		Cooldown:  cooldownResponse{Active: remaining > 0, RemainingSeconds: secs},
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Market.Snapshot()
	if v := r.URL.Query().Get("timeframe"); v != "" {
		tf, err := models.ParseTimeframe(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		if tf != snap.Timeframe {
			writeError(w, http.StatusConflict, "timeframe_mismatch",
				"active timeframe is "+string(snap.Timeframe)+"; PUT /v1/timeframe to switch")
			return
		}
	}
	if snap.Series == nil {
		snap.Series = models.CandleSeries{}
	}
	writeJSON(w, http.StatusOK, snap)
}

type timeframeRequest struct {
	Timeframe string `json:"timeframe"`
}

func (s *Server) handleSetTimeframe(w http.ResponseWriter, r *http.Request) {
	var req timeframeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "body must be {\"timeframe\": \"5m\"}")
		return
	}
	tf, err := models.ParseTimeframe(req.Timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := s.deps.Market.SetTimeframe(r.Context(), tf); err != nil {
		writeTradeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Market.Snapshot())
}
