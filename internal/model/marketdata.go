package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSeriesResponse matches the JSON shape returned by the price feed and
// stored in replay fixtures.
//
// Example:
// {
//   "status_code": 200,
//   "data": [ ... ]
// }
type PriceSeriesResponse struct {
	StatusCode int             `json:"status_code"`
	Data       []PriceInterval `json:"data"`
}

// PriceInterval is one day-ahead or intraday market price row.
type PriceInterval struct {
	IntervalStartUTC time.Time `json:"interval_start_utc"`
	IntervalEndUTC   time.Time `json:"interval_end_utc"`

	Market string `json:"market"`
	Zone   string `json:"zone"`

	// EUR/MWh.
	Price decimal.Decimal `json:"price"`
}

func (i PriceInterval) Duration() time.Duration {
	return i.IntervalEndUTC.Sub(i.IntervalStartUTC)
}

func (i PriceInterval) Contains(t time.Time) bool {
	return !t.Before(i.IntervalStartUTC) && t.Before(i.IntervalEndUTC)
}

// PriceAt returns the price of the interval covering t, falling back to the
// last interval that started before t.
func PriceAt(series []PriceInterval, t time.Time) (decimal.Decimal, bool) {
	var last *PriceInterval
	for idx := range series {
		it := &series[idx]
		if it.Contains(t) {
			return it.Price, true
		}
		if !it.IntervalStartUTC.After(t) {
			last = it
		}
	}
	if last == nil {
		return decimal.Zero, false
	}
	return last.Price, true
}
