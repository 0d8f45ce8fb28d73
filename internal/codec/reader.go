package codec

import (
	"encoding/binary"
	"time"

	"marketfeed/internal/schema"
)

func appendTime(dst []byte, t time.Time) []byte {
	if t.IsZero() {
		return appendInt64(dst, 0)
	}
	return appendInt64(dst, t.UnixNano())
}

// reader walks a record body. The first overrun sets truncated and
// every later read returns zero values, so call sites stay flat and
// check err once.
type reader struct {
	data      []byte
	pos       int
	truncated bool
}

func (r *reader) take(n int) []byte {
	if r.pos+n > len(r.data) {
		r.truncated = true
		r.pos = len(r.data)
		return nil
	}
	field := r.data[r.pos : r.pos+n]
	r.pos += n
	return field
}

func (r *reader) byte() byte {
	field := r.take(1)
	if field == nil {
		return 0
	}
	return field[0]
}

func (r *reader) int64() int64 {
	field := r.take(8)
	if field == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(field))
}

func (r *reader) str() string {
	length := int(r.byte())
	field := r.take(length)
	if field == nil {
		return ""
	}
	return string(field)
}

func (r *reader) security() schema.Security {
	return schema.Security{Symbol: r.str(), Venue: r.str()}
}

func (r *reader) quote(side schema.Side) schema.Quote {
	return schema.Quote{
		Price: schema.Price(r.int64()),
		Size:  schema.Quantity(r.int64()),
		Side:  side,
	}
}

func (r *reader) time() time.Time {
	nanos := r.int64()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (r *reader) err() error {
	if r.truncated {
		return ErrRecordTruncated
	}
	return nil
}
