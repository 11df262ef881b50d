package domain

import "github.com/shopspring/decimal"

// PriceLevel is a single price+quantity entry in an order book ladder.
// Prices and quantities are decimals throughout; float64 is reserved for
// derived metrics (confidence, VPIN, CVD in quote currency).
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BookSnapshot is a full REST snapshot of bids and asks for a symbol.
type BookSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthUpdate is one incremental diff from the exchange depth stream.
// A zero quantity removes the level. EventTimeMs is exchange-origin time in
// milliseconds; local wall clock is never mixed into delta-t calculations.
type DepthUpdate struct {
	FirstUpdateID int64
	FinalUpdateID int64
	EventTimeMs   int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// Trade is one aggregated trade from the exchange trade stream.
// IsBuyerMaker true means the taker sold into the bid.
type Trade struct {
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
	EventTimeMs  int64
	TradeID      int64
}

// QuoteVolume returns price*quantity as a float, the trade's size in quote
// currency. Cohort segmentation and CVD run on quote volume.
func (t Trade) QuoteVolume() float64 {
	return t.Price.Mul(t.Quantity).InexactFloat64()
}

// Side names a book side for lookups and events.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// SideFromAsk maps the is_ask flag used across the detection pipeline.
func SideFromAsk(isAsk bool) Side {
	if isAsk {
		return SideAsk
	}
	return SideBid
}
