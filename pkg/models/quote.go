package models

// Quote is a point-in-time bid/ask/last snapshot for a symbol.
// Instances are immutable: updates produce a new Quote, they never
// mutate one in place. The zero value is not a usable quote; Valid
// is only set by NewQuote.
type Quote struct {
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	BidSize int     `json:"bid_size"`
	Ask     float64 `json:"ask"`
	AskSize int     `json:"ask_size"`
	Last    float64 `json:"last"`
	Valid   bool    `json:"valid"`
}

// NewQuote builds a valid quote.
func NewQuote(symbol string, bid float64, bidSize int, ask float64, askSize int, last float64) Quote {
	return Quote{
		Symbol:  symbol,
		Bid:     bid,
		BidSize: bidSize,
		Ask:     ask,
		AskSize: askSize,
		Last:    last,
		Valid:   true,
	}
}

// QuoteUpdate is the wire form of a single market tick: the refreshed
// quote plus the metadata downstream consumers need for deduplication.
type QuoteUpdate struct {
	Quote
	Timestamp int64 `json:"timestamp"` // unix micro
	SeqID     int64 `json:"seq_id"`    // monotonic counter per symbol
}
