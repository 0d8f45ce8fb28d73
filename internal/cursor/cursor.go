// Package cursor reads fixed-width fields out of borrowed message buffers.
package cursor

import (
	"encoding/binary"

	"github.com/yanun0323/errors"

	"marketfeed/internal/schema"
)

var ErrShortRead = errors.New("read past end of message")

const (
	shortPriceDigits  = 10
	shortPriceDecimal = 4
	longPriceDigits   = 19
	longPriceDecimal  = 6
)

// Cursor tracks a read position inside a single raw message. Reads past the
// end return zero values and mark the cursor truncated instead of panicking.
type Cursor struct {
	data      []byte
	pos       int
	truncated bool
	malformed bool
}

// New wraps a raw message. The cursor borrows data and must not outlive it.
func New(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Remaining reports how many unread bytes are left.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Truncated reports whether any read ran past the end of the message.
func (c *Cursor) Truncated() bool {
	return c.truncated
}

// Malformed reports whether a numeric field contained non-digit garbage.
func (c *Cursor) Malformed() bool {
	return c.malformed
}

// Err returns ErrShortRead if the cursor ran past the end of the message.
func (c *Cursor) Err() error {
	if c.truncated {
		return ErrShortRead
	}
	return nil
}

func (c *Cursor) take(n int) []byte {
	if c.Remaining() < n {
		c.truncated = true
		c.pos = len(c.data)
		return nil
	}
	field := c.data[c.pos : c.pos+n]
	c.pos += n
	return field
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) {
	c.take(n)
}

// Char consumes a single byte.
func (c *Cursor) Char() byte {
	field := c.take(1)
	if field == nil {
		return 0
	}
	return field[0]
}

// Numeric reads a fixed-width ASCII integer. Leading spaces are padding.
// Non-digit bytes after the padding are skipped and mark the cursor
// malformed; the digits that were present still contribute to the value.
func (c *Cursor) Numeric(length int) int64 {
	field := c.take(length)
	if field == nil {
		return 0
	}
	i := 0
	for i < len(field) && field[i] == ' ' {
		i++
	}
	var value int64
	for ; i < len(field); i++ {
		b := field[i]
		if b < '0' || b > '9' {
			c.malformed = true
			continue
		}
		value = 10*value + int64(b-'0')
	}
	return value
}

// Alpha reads a space-padded text field, always consuming length bytes.
func (c *Cursor) Alpha(length int) string {
	field := c.take(length)
	if field == nil {
		return ""
	}
	end := len(field)
	for end > 0 && field[end-1] == ' ' {
		end--
	}
	return string(field[:end])
}

// Side maps a discriminator byte to a book side. Unrecognized values decode
// to SideUnknown; callers drop such events rather than erroring.
func (c *Cursor) Side() schema.Side {
	switch c.Char() {
	case 'B':
		return schema.SideBid
	case 'S':
		return schema.SideAsk
	default:
		return schema.SideUnknown
	}
}

// Price reads a fixed-width unsigned price field and rescales it to the
// canonical fixed-point representation. The form is an explicit flag,
// never inferred from content.
func (c *Cursor) Price(longForm bool) schema.Price {
	if longForm {
		return schema.PriceFromValue(c.Numeric(longPriceDigits), longPriceDecimal)
	}
	return schema.PriceFromValue(c.Numeric(shortPriceDigits), shortPriceDecimal)
}

// DenominatedPrice reads a price whose implied decimal places are named by a
// denominator byte: 'A' means one decimal digit, 'B' two, up to 'I'. The
// field holds the whole-dollar digits first, then the decimal digits.
func (c *Cursor) DenominatedPrice(digits int, denominator byte) schema.Price {
	decimalDigits := int(denominator-'A') + 1
	if decimalDigits < 1 || decimalDigits > schema.PriceDecimalPlaces {
		c.malformed = true
		c.Skip(digits)
		return 0
	}
	dollars := c.Numeric(digits - decimalDigits)
	decimals := c.Numeric(decimalDigits)
	return schema.Price(dollars*schema.PowerOfTen(schema.PriceDecimalPlaces) +
		decimals*schema.PowerOfTen(schema.PriceDecimalPlaces-decimalDigits))
}

// Uint8 reads one byte as an unsigned integer.
func (c *Cursor) Uint8() uint8 {
	return c.Char()
}

// Uint16 reads a big-endian 16-bit unsigned integer.
func (c *Cursor) Uint16() uint16 {
	field := c.take(2)
	if field == nil {
		return 0
	}
	return binary.BigEndian.Uint16(field)
}

// Uint32 reads a big-endian 32-bit unsigned integer.
func (c *Cursor) Uint32() uint32 {
	field := c.take(4)
	if field == nil {
		return 0
	}
	return binary.BigEndian.Uint32(field)
}

// Uint64 reads a big-endian 64-bit unsigned integer.
func (c *Cursor) Uint64() uint64 {
	field := c.take(8)
	if field == nil {
		return 0
	}
	return binary.BigEndian.Uint64(field)
}
