package domain

// MalformedPolicy controls per-record handling of validation failures
// during normalization.
type MalformedPolicy string

const (
	MalformedSkip  MalformedPolicy = "skip"
	MalformedAbort MalformedPolicy = "abort"
)

// IsValid checks if the policy is a valid value.
func (p MalformedPolicy) IsValid() bool {
	return p == MalformedSkip || p == MalformedAbort
}

// GapPolicy controls how low-confidence windows reach the assembled dataset.
type GapPolicy string

const (
	// GapPolicyFlag keeps low-confidence rows with confidence_flag = "low".
	GapPolicyFlag GapPolicy = "flag"
	// GapPolicyDrop excludes low-confidence rows and counts them.
	GapPolicyDrop GapPolicy = "drop"
)

// IsValid checks if the policy is a valid value.
func (p GapPolicy) IsValid() bool {
	return p == GapPolicyFlag || p == GapPolicyDrop
}

// OFIPolicyName selects the signed-volume aggregation policy.
type OFIPolicyName string

const (
	// OFIPolicyBaseline combines trade flow with book liquidity deltas
	// inside the configured depth.
	OFIPolicyBaseline OFIPolicyName = "baseline"
	// OFIPolicyTradeFlow uses aggressive trade flow only
	// (buy volume minus sell volume).
	OFIPolicyTradeFlow OFIPolicyName = "trade_flow"
)

// IsValid checks if the policy name is a valid value.
func (p OFIPolicyName) IsValid() bool {
	return p == OFIPolicyBaseline || p == OFIPolicyTradeFlow
}

// RefPriceStrategy selects the reference price used for label returns.
type RefPriceStrategy string

const (
	RefPriceMid       RefPriceStrategy = "mid"
	RefPriceLastTrade RefPriceStrategy = "last_trade"
	RefPriceVWAP      RefPriceStrategy = "vwap"
)

// IsValid checks if the strategy is a valid value.
func (s RefPriceStrategy) IsValid() bool {
	return s == RefPriceMid || s == RefPriceLastTrade || s == RefPriceVWAP
}
