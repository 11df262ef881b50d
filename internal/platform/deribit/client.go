// Package deribit fetches the derivatives context from the Deribit public
// API: dealer gamma exposure from the options chain, the options skew, and
// the annualized futures basis.
package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Config holds the endpoint and timeout.
type Config struct {
	BaseURL     string
	Currency    string
	HTTPTimeout time.Duration
}

// Client queries Deribit's public book summaries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client with the configured HTTP timeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "deribit")),
	}
}

// bookSummary is one row of get_book_summary_by_currency.
type bookSummary struct {
	InstrumentName  string   `json:"instrument_name"`
	MarkPrice       *float64 `json:"mark_price"`
	UnderlyingPrice *float64 `json:"underlying_price"`
	OpenInterest    *float64 `json:"open_interest"`
	BidIV           *float64 `json:"bid_iv"`
	AskIV           *float64 `json:"ask_iv"`
	MarkIV          *float64 `json:"mark_iv"`
}

type summaryResponse struct {
	Result []bookSummary `json:"result"`
}

// Fetch assembles a fresh derivatives snapshot. An options chain without
// usable legs leaves gamma and skew absent, and a failed futures fetch or a
// chain without a dated future leaves the basis absent. A failed options
// fetch returns an error and the futures chain is not fetched.
func (c *Client) Fetch(ctx context.Context) (domain.DerivativesSnapshot, error) {
	snap := domain.DerivativesSnapshot{UpdatedAt: time.Now()}

	options, err := c.summaries(ctx, "option")
	if err != nil {
		return snap, fmt.Errorf("deribit: options chain: %w", err)
	}
	if gamma, skew, ok := computeGamma(options, time.Now()); ok {
		snap.Gamma = gamma
		snap.SkewPct = skew
	}

	futures, err := c.summaries(ctx, "future")
	if err != nil {
		// Options already succeeded; keep the partial snapshot.
		c.logger.Warn("futures chain fetch failed", slog.String("error", err.Error()))
		return snap, nil
	}
	if basis, ok := computeBasisAPR(futures, time.Now()); ok {
		snap.BasisAPR = &basis
	}

	return snap, nil
}

func (c *Client) summaries(ctx context.Context, kind string) ([]bookSummary, error) {
	url := fmt.Sprintf("%s/get_book_summary_by_currency?currency=%s&kind=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Currency, kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// parsedInstrument is an option or future leg decoded from its name,
// e.g. BTC-27JUN25-100000-C.
type parsedInstrument struct {
	expiry time.Time
	strike float64
	isCall bool
	isPut  bool
}

func parseInstrument(name string) (parsedInstrument, bool) {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return parsedInstrument{}, false
	}
	expiry, err := parseExpiry(parts[1])
	if err != nil {
		return parsedInstrument{}, false
	}
	p := parsedInstrument{expiry: expiry}
	if len(parts) >= 4 {
		strike, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return parsedInstrument{}, false
		}
		p.strike = strike
		p.isCall = parts[3] == "C"
		p.isPut = parts[3] == "P"
	}
	return p, true
}

// parseExpiry decodes Deribit's 27JUN25 date format.
func parseExpiry(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("deribit: short expiry %q", s)
	}
	// Rebuild 27JUN25 as 27Jun25 so time.Parse's month names match.
	lower := strings.ToLower(s)
	i := 0
	for i < len(lower) && lower[i] >= '0' && lower[i] <= '9' {
		i++
	}
	if i == 0 || len(lower) < i+3 {
		return time.Time{}, fmt.Errorf("deribit: malformed expiry %q", s)
	}
	month := strings.ToUpper(lower[i:i+1]) + lower[i+1:i+3]
	normalized := lower[:i] + month + lower[i+3:]
	t, err := time.Parse("2Jan06", normalized)
	if err != nil {
		return time.Time{}, err
	}
	// Deribit expiries settle at 08:00 UTC.
	return t.Add(8 * time.Hour).UTC(), nil
}

// computeGamma aggregates per-strike dealer gamma exposure via the
// Black-Scholes gamma and locates the call and put walls. It also returns
// the near-the-money put-call IV skew in percentage points.
func computeGamma(rows []bookSummary, now time.Time) (*domain.GammaProfile, *float64, bool) {
	type strikeGex struct{ call, put float64 }
	perStrike := make(map[float64]*strikeGex)

	var totalGEX float64
	var putIVSum, callIVSum float64
	var putIVN, callIVN int
	any := false

	for _, row := range rows {
		inst, ok := parseInstrument(row.InstrumentName)
		if !ok || (!inst.isCall && !inst.isPut) {
			continue
		}
		if row.UnderlyingPrice == nil || row.OpenInterest == nil {
			continue
		}
		S := *row.UnderlyingPrice
		if S <= 0 || inst.strike <= 0 {
			continue
		}

		years := inst.expiry.Sub(now).Hours() / (365 * 24)
		if years <= 0.002 {
			continue
		}

		iv := impliedVol(row)
		if iv <= 0 {
			continue
		}

		d1 := (math.Log(S/inst.strike) + 0.5*iv*iv*years) / (iv * math.Sqrt(years))
		gamma := normPDF(d1) / (S * iv * math.Sqrt(years))
		gex := gamma * *row.OpenInterest * S * S * 0.01
		if inst.isPut {
			gex = -gex
		}

		sg := perStrike[inst.strike]
		if sg == nil {
			sg = &strikeGex{}
			perStrike[inst.strike] = sg
		}
		if inst.isCall {
			sg.call += gex
		} else {
			sg.put += gex
		}
		totalGEX += gex
		any = true

		// Near-the-money legs feed the skew.
		if math.Abs(inst.strike-S)/S <= 0.10 {
			if inst.isPut {
				putIVSum += iv
				putIVN++
			} else {
				callIVSum += iv
				callIVN++
			}
		}
	}

	if !any {
		return nil, nil, false
	}

	profile := &domain.GammaProfile{TotalGEX: totalGEX}
	var maxCall, minPut float64
	first := true
	for strike, sg := range perStrike {
		if first {
			profile.CallWall, profile.PutWall = strike, strike
			maxCall, minPut = sg.call, sg.put
			first = false
			continue
		}
		if sg.call > maxCall {
			maxCall = sg.call
			profile.CallWall = strike
		}
		if sg.put < minPut {
			minPut = sg.put
			profile.PutWall = strike
		}
	}

	var skew *float64
	if putIVN > 0 && callIVN > 0 {
		s := (putIVSum/float64(putIVN) - callIVSum/float64(callIVN)) * 100
		skew = &s
	}
	return profile, skew, true
}

// computeBasisAPR annualizes the premium of the nearest dated future over
// its underlying index.
func computeBasisAPR(rows []bookSummary, now time.Time) (float64, bool) {
	best := time.Time{}
	var basisAPR float64
	found := false

	for _, row := range rows {
		if strings.HasSuffix(row.InstrumentName, "PERPETUAL") {
			continue
		}
		inst, ok := parseInstrument(row.InstrumentName)
		if !ok {
			continue
		}
		if row.MarkPrice == nil || row.UnderlyingPrice == nil || *row.UnderlyingPrice <= 0 {
			continue
		}
		years := inst.expiry.Sub(now).Hours() / (365 * 24)
		if years <= 0.002 {
			continue
		}
		if found && !inst.expiry.Before(best) {
			continue
		}
		best = inst.expiry
		basisAPR = (*row.MarkPrice / *row.UnderlyingPrice - 1) / years * 100
		found = true
	}
	return basisAPR, found
}

// impliedVol prefers the mark IV, falling back to the bid/ask mean.
// Deribit reports IV in percent.
func impliedVol(row bookSummary) float64 {
	if row.MarkIV != nil && *row.MarkIV > 0 {
		return *row.MarkIV / 100
	}
	if row.BidIV != nil && row.AskIV != nil && *row.BidIV > 0 && *row.AskIV > 0 {
		return (*row.BidIV + *row.AskIV) / 2 / 100
	}
	return 0
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
