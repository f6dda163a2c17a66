package currency

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Currency is a settlement or comparison currency code.
type Currency string

const (
	USD Currency = "USD"
	ADA Currency = "ADA"
)

// ParseCurrency reads a currency code case-insensitively. Only USD and ADA
// are known.
func ParseCurrency(raw string) (Currency, bool) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(raw))); c {
	case USD, ADA:
		return c, true
	default:
		return "", false
	}
}

// Comparison is the currency every cross-fund figure is expressed in.
const Comparison = USD

const (
	// DefaultCutoffFund is the first fund ordinal settled in ADA.
	DefaultCutoffFund = 10
	// DefaultADAUSDRate is the compiled-in reference rate, applied when no
	// valid override is configured.
	DefaultADAUSDRate = "0.35"
)

// RateSource records where the applied conversion rate came from.
type RateSource string

const (
	RateSourceConfig  RateSource = "config"
	RateSourceDefault RateSource = "default"
)

// Normalized is an amount expressed in the comparison currency together with
// the rate that produced it. Callers surface Rate and RateSource next to the
// figure wherever it is displayed.
type Normalized struct {
	Amount     float64    `json:"amount"`
	Original   float64    `json:"original_amount"`
	Currency   Currency   `json:"original_currency"`
	Target     Currency   `json:"currency"`
	Converted  bool       `json:"converted"`
	Rate       float64    `json:"rate"`
	RateSource RateSource `json:"rate_source"`
}

// Normalizer converts native fund amounts into the comparison currency.
// Rates are fixed per process; there is no market lookup.
type Normalizer struct {
	rate   decimal.Decimal
	source RateSource
	cutoff int
	logger *slog.Logger
}

// NewNormalizer builds a normalizer from a raw override value. An empty,
// unparsable or non-positive override falls back to DefaultADAUSDRate and
// is logged. A cutoff <= 0 uses DefaultCutoffFund.
func NewNormalizer(rateOverride string, cutoff int, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if cutoff <= 0 {
		cutoff = DefaultCutoffFund
	}

	n := &Normalizer{
		rate:   decimal.RequireFromString(DefaultADAUSDRate),
		source: RateSourceDefault,
		cutoff: cutoff,
		logger: logger.With("component", "currency"),
	}

	raw := strings.TrimSpace(rateOverride)
	if raw == "" {
		logger.Debug("No ADA/USD rate override configured, using default", "rate", DefaultADAUSDRate)
		return n
	}

	parsed, err := decimal.NewFromString(raw)
	if err != nil || !parsed.IsPositive() {
		logger.Warn("Invalid ADA/USD rate override, using default",
			"override", raw,
			"default", DefaultADAUSDRate,
			"error", err,
		)
		return n
	}

	n.rate = parsed
	n.source = RateSourceConfig
	return n
}

// CurrencyForFund applies the settlement rule: funds below the cutoff settle
// in the comparison currency, the rest in ADA.
func (n *Normalizer) CurrencyForFund(fundOrdinal int) Currency {
	if fundOrdinal < n.cutoff {
		return USD
	}
	return ADA
}

// Rate returns the applied ADA→USD rate and its source.
func (n *Normalizer) Rate() (float64, RateSource) {
	return n.rate.InexactFloat64(), n.source
}

// Cutoff returns the first ADA-settled fund ordinal.
func (n *Normalizer) Cutoff() int { return n.cutoff }

// Native resolves the currency an amount is held in: explicit when it is a
// known code, otherwise the fund's settlement currency. An unknown explicit
// code is logged and ignored.
func (n *Normalizer) Native(fundOrdinal int, explicit Currency) Currency {
	if explicit == "" {
		return n.CurrencyForFund(fundOrdinal)
	}
	c, ok := ParseCurrency(string(explicit))
	if !ok {
		n.logger.Warn("Unknown currency code, using fund settlement currency",
			"currency", string(explicit),
			"fund", fundOrdinal,
		)
		return n.CurrencyForFund(fundOrdinal)
	}
	return c
}

// Convert moves amount between the two known currencies at the applied
// rate.
func (n *Normalizer) Convert(amount float64, from, to Currency) float64 {
	switch {
	case from == to:
		return amount
	case from == ADA:
		return decimal.NewFromFloat(amount).Mul(n.rate).InexactFloat64()
	default:
		return decimal.NewFromFloat(amount).Div(n.rate).InexactFloat64()
	}
}

// ToFundCurrency expresses amount in the settlement currency of its fund.
// A USD amount in an ADA fund is divided by the rate.
func (n *Normalizer) ToFundCurrency(amount float64, fundOrdinal int, explicit Currency) float64 {
	return n.Convert(amount, n.Native(fundOrdinal, explicit), n.CurrencyForFund(fundOrdinal))
}

// Normalize converts amount into the comparison currency. explicit overrides
// the fund's settlement currency when it is a known code. Amounts already in
// the comparison currency are returned unchanged; zero and negative amounts
// go through the same multiplication as any other value.
func (n *Normalizer) Normalize(amount float64, fundOrdinal int, explicit Currency) Normalized {
	native := n.Native(fundOrdinal, explicit)

	rate, source := n.Rate()
	out := Normalized{
		Original:   amount,
		Currency:   native,
		Target:     Comparison,
		Rate:       rate,
		RateSource: source,
	}

	if native == Comparison {
		out.Amount = amount
		out.Rate = 1
		return out
	}

	out.Amount = decimal.NewFromFloat(amount).Mul(n.rate).InexactFloat64()
	out.Converted = true
	return out
}
