package schema

import "strconv"

// PriceDecimalPlaces is the number of implied decimal places carried by Price.
const PriceDecimalPlaces = 6

// Price is a fixed-point price with PriceDecimalPlaces implied decimals.
type Price int64

// PriceFromValue rescales an integer carrying the given number of implied
// decimal places into the canonical representation.
func PriceFromValue(value int64, decimalPlaces int) Price {
	return Price(value * PowerOfTen(PriceDecimalPlaces-decimalPlaces))
}

// Float64 returns the price as a floating point number of whole units.
func (p Price) Float64() float64 {
	return float64(p) / float64(PowerOfTen(PriceDecimalPlaces))
}

func (p Price) String() string {
	unit := PowerOfTen(PriceDecimalPlaces)
	whole := int64(p) / unit
	frac := int64(p) % unit
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + pad6(frac)
}

func pad6(v int64) string {
	s := strconv.FormatInt(v, 10)
	for len(s) < PriceDecimalPlaces {
		s = "0" + s
	}
	return s
}

// PowerOfTen returns 10^exponent for small non-negative exponents.
func PowerOfTen(exponent int) int64 {
	result := int64(1)
	for i := 0; i < exponent; i++ {
		result *= 10
	}
	return result
}

// Quantity is a share or lot count.
type Quantity int64

// Side marks which half of the book an order or quote belongs to.
type Side uint8

const (
	SideUnknown Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Security identifies an instrument on its primary listing venue.
type Security struct {
	Symbol string
	Venue  string
}

func (s Security) String() string {
	return s.Symbol + "." + s.Venue
}

// SecurityInfo carries an instrument's static reference data.
type SecurityInfo struct {
	Security Security
	Name     string
	BoardLot Quantity
}

// SessionState tracks the lifecycle of a connection-owning component.
type SessionState uint32

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionOpen
	SessionClosing
)

func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "opening"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	default:
		return "closed"
	}
}
