package domain

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// side string constants to avoid magic strings
const (
	sideStringBuy  = "buy"
	sideStringSell = "sell"
)

// SideFromDelta returns the order side needed to move a position by delta.
func SideFromDelta(sign int) Side {
	if sign < 0 {
		return SideSell
	}
	return SideBuy
}

// String returns the string representation of the side
func (s Side) String() string {
	switch s {
	case SideBuy:
		return sideStringBuy
	case SideSell:
		return sideStringSell
	default:
		return "unknown"
	}
}

// MarshalText encodes the side as its name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case sideStringSell:
		*s = SideSell
	default:
		*s = SideBuy
	}
	return nil
}

// OrderType execution style requested from the adapter.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)
