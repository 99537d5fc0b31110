package payment

import "math/bits"

const (
	CreatorPercent  = 70
	AuditorPercent  = 25
	ProtocolPercent = 5
)

// Split is the division of one execution payment.
type Split struct {
	Price    uint64 `json:"price"`
	Creator  uint64 `json:"creator"`
	Protocol uint64 `json:"protocol"`
	// Auditors is reserved for a future pro-rata distribution and is never transferred.
	Auditors uint64 `json:"auditors"`
}

// SplitPrice divides price with per-term integer truncation. Every term is
// exact over the full uint64 range.
func SplitPrice(price uint64) Split {
	return Split{
		Price:    price,
		Creator:  percentOf(price, CreatorPercent),
		Protocol: percentOf(price, ProtocolPercent),
		Auditors: percentOf(price, AuditorPercent),
	}
}

// percentOf returns floor(amount*pct/100) using a 128-bit product.
func percentOf(amount, pct uint64) uint64 {
	hi, lo := bits.Mul64(amount, pct)
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

// Charged is the total debited from the executor. It never exceeds 75% of
// Price, so the sum cannot wrap.
func (s Split) Charged() uint64 { return s.Creator + s.Protocol }
