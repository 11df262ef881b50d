package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// depthSnapshotMessage is the REST /api/v3/depth response.
type depthSnapshotMessage struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// depthUpdateMessage is one event from the <symbol>@depth stream.
type depthUpdateMessage struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// aggTradeMessage is one event from the <symbol>@aggTrade stream.
type aggTradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("binance: malformed price level %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("binance: parse price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("binance: parse quantity %q: %w", pair[1], err)
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

func (m *depthSnapshotMessage) toDomain() (domain.BookSnapshot, error) {
	bids, err := parseLevels(m.Bids)
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	asks, err := parseLevels(m.Asks)
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	return domain.BookSnapshot{LastUpdateID: m.LastUpdateID, Bids: bids, Asks: asks}, nil
}

func (m *depthUpdateMessage) toDomain() (domain.DepthUpdate, error) {
	bids, err := parseLevels(m.Bids)
	if err != nil {
		return domain.DepthUpdate{}, err
	}
	asks, err := parseLevels(m.Asks)
	if err != nil {
		return domain.DepthUpdate{}, err
	}
	return domain.DepthUpdate{
		FirstUpdateID: m.FirstUpdateID,
		FinalUpdateID: m.FinalUpdateID,
		EventTimeMs:   m.EventTime,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

func (m *aggTradeMessage) toDomain() (domain.Trade, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("binance: parse trade price %q: %w", m.Price, err)
	}
	qty, err := decimal.NewFromString(m.Quantity)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("binance: parse trade quantity %q: %w", m.Quantity, err)
	}
	return domain.Trade{
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: m.IsBuyerMaker,
		EventTimeMs:  m.TradeTime,
		TradeID:      m.TradeID,
	}, nil
}
