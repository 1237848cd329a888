package repository

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// VolumeRepo sums a user's realized USD volume from the backend's trades
// table. It satisfies risk.VolumeSource in database mode.
type VolumeRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewVolumeRepo(pool *pgxpool.Pool) *VolumeRepo {
	return &VolumeRepo{pool: pool, now: time.Now}
}

// WindowStart is the beginning of the rolling daily window ending at now,
// as a UTC wall-clock time matching the stored timestamps.
func WindowStart(now time.Time) time.Time {
	return now.UTC().Add(-risk.DailyWindow)
}

func (r *VolumeRepo) UsedVolumeUSD(ctx context.Context, user common.Address) (decimal.Decimal, error) {
	var total string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_in_usd), 0)::text
		 FROM trades
		 WHERE LOWER(buyer_or_seller) = LOWER($1) AND timestamp >= $2`,
		user.Hex(), WindowStart(r.now()),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, tradeerr.Transport("sum trades volume", err)
	}
	return decimal.NewFromString(total)
}
