package domain

// Segment is a broker exchange segment.
type Segment string

const (
	SegmentEquity Segment = "NSE_EQ"
	SegmentIndex  Segment = "IDX_I"
)

// NiftyIndexID is the broker security id of the NIFTY 50 index.
const NiftyIndexID = "13"

// Quote is the last traded price of one instrument together with the day's
// net change. HasNetChange is false when the feed omitted the field, which
// is not the same as an unchanged day.
type Quote struct {
	SecurityID   string
	Segment      Segment
	LastPrice    float64
	NetChange    float64
	HasNetChange bool
}

// IndexQuote is the reference index snapshot used by the market gate.
type IndexQuote struct {
	LastPrice float64
	PrevClose float64
}
