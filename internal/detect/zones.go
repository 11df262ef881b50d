package detect

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Zones clusters the ACTIVE levels of each side into price zones: adjacent
// levels closer than tolerancePct merge into one zone with a volume-
// weighted center. Three or more levels in a zone mark concentrated
// institutional defense of the area.
func (r *Registry) Zones(tolerancePct float64) []domain.PriceZone {
	active := r.Active()
	if len(active) == 0 {
		return nil
	}

	var bids, asks []*domain.IcebergLevel
	for _, lvl := range active {
		if lvl.IsAsk {
			asks = append(asks, lvl)
		} else {
			bids = append(bids, lvl)
		}
	}

	var zones []domain.PriceZone
	for _, side := range [][]*domain.IcebergLevel{bids, asks} {
		if len(side) == 0 {
			continue
		}
		sort.Slice(side, func(i, j int) bool {
			return side[i].Price.LessThan(side[j].Price)
		})

		cluster := []*domain.IcebergLevel{side[0]}
		for i := 1; i < len(side); i++ {
			prev := side[i-1].Price
			curr := side[i].Price
			diffPct := curr.Sub(prev).Abs().Div(prev).InexactFloat64()
			if diffPct <= tolerancePct {
				cluster = append(cluster, side[i])
				continue
			}
			zones = append(zones, zoneFromCluster(cluster))
			cluster = []*domain.IcebergLevel{side[i]}
		}
		zones = append(zones, zoneFromCluster(cluster))
	}
	return zones
}

// zoneFromCluster aggregates one cluster into a zone with a volume-weighted
// center price.
func zoneFromCluster(cluster []*domain.IcebergLevel) domain.PriceZone {
	totalVol := decimal.Zero
	weighted := decimal.Zero
	minP, maxP := cluster[0].Price, cluster[0].Price

	for _, lvl := range cluster {
		totalVol = totalVol.Add(lvl.TotalHiddenVolume)
		weighted = weighted.Add(lvl.Price.Mul(lvl.TotalHiddenVolume))
		if lvl.Price.LessThan(minP) {
			minP = lvl.Price
		}
		if lvl.Price.GreaterThan(maxP) {
			maxP = lvl.Price
		}
	}

	center := cluster[0].Price
	if totalVol.IsPositive() {
		center = weighted.Div(totalVol)
	}

	return domain.PriceZone{
		CenterPrice:  center,
		IsAsk:        cluster[0].IsAsk,
		TotalVolume:  totalVol,
		IcebergCount: len(cluster),
		MinPrice:     minP,
		MaxPrice:     maxP,
	}
}
