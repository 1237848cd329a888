package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

const maxLoggedPayload = 256

type wireTrade struct {
	Timestamp  json.RawMessage     `json:"timestamp"`
	PriceInUSD decimal.NullDecimal `json:"priceInUsd"`
	Amount     decimal.NullDecimal `json:"amount"`
	EventType  string              `json:"eventType"`
	TxHash     string              `json:"txHash"`
}

// ParseTrade decodes one live trade message. Numbers may arrive as JSON
// numbers or strings; see models.ParseTimestamp for timestamp shapes. Any
// failure is a *tradeerr.FeedParseError.
func ParseTrade(body []byte) (models.TradeEvent, error) {
	var w wireTrade
	if err := json.Unmarshal(body, &w); err != nil {
		return models.TradeEvent{}, parseErr(body, err)
	}
	ts, err := models.ParseTimestamp(w.Timestamp)
	if err != nil {
		return models.TradeEvent{}, parseErr(body, err)
	}
	if !w.PriceInUSD.Valid || !w.Amount.Valid {
		return models.TradeEvent{}, parseErr(body, fmt.Errorf("missing priceInUsd or amount"))
	}
	side, err := models.ParseSide(w.EventType)
	if err != nil {
		return models.TradeEvent{}, parseErr(body, err)
	}

	ev := models.TradeEvent{
		TxHash:    w.TxHash,
		Timestamp: ts,
		PriceUSD:  w.PriceInUSD.Decimal,
		Amount:    w.Amount.Decimal,
		Side:      side,
	}
	if err := ev.Validate(); err != nil {
		return models.TradeEvent{}, parseErr(body, err)
	}
	return ev, nil
}

func parseErr(body []byte, err error) error {
	p := string(body)
	if len(p) > maxLoggedPayload {
		p = p[:maxLoggedPayload] + "..."
	}
	return &tradeerr.FeedParseError{Payload: p, Err: err}
}
