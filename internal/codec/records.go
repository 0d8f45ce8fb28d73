// Package codec serializes outbound updates into fixed little-endian
// records. Each record starts with one type byte; strings carry a
// one-byte length prefix.
package codec

import (
	"encoding/binary"

	"github.com/yanun0323/errors"

	"marketfeed/internal/schema"
)

const (
	RecordBbo          = byte('B')
	RecordMarketQuote  = byte('M')
	RecordBookQuote    = byte('Q')
	RecordTimeAndSale  = byte('T')
	RecordImbalance    = byte('I')
	RecordSecurityInfo = byte('S')
)

var (
	ErrUnknownRecord   = errors.New("unknown record type")
	ErrRecordTruncated = errors.New("record truncated")
	ErrStringTooLong   = errors.New("string exceeds record limit")
)

// Encode appends one update record to dst and returns the extended
// slice.
func Encode(dst []byte, update schema.Update) ([]byte, error) {
	switch u := update.(type) {
	case schema.BboQuote:
		dst = append(dst, RecordBbo)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst = appendQuote(dst, u.Bid)
		dst = appendQuote(dst, u.Ask)
		return appendTime(dst, u.Timestamp), nil
	case schema.MarketQuote:
		dst = append(dst, RecordMarketQuote)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.Venue)
		if err != nil {
			return nil, err
		}
		dst = appendQuote(dst, u.Bid)
		dst = appendQuote(dst, u.Ask)
		return appendTime(dst, u.Timestamp), nil
	case schema.BookQuote:
		dst = append(dst, RecordBookQuote)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.Venue)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.MPID)
		if err != nil {
			return nil, err
		}
		dst = append(dst, byte(u.Side))
		dst = appendInt64(dst, int64(u.Price))
		dst = appendInt64(dst, int64(u.Size))
		return appendTime(dst, u.Timestamp), nil
	case schema.TimeAndSale:
		dst = append(dst, RecordTimeAndSale)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.Condition)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.MarketCenter)
		if err != nil {
			return nil, err
		}
		dst = appendInt64(dst, int64(u.Price))
		dst = appendInt64(dst, int64(u.Size))
		return appendTime(dst, u.Timestamp), nil
	case schema.Imbalance:
		dst = append(dst, RecordImbalance)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst = append(dst, byte(u.Side))
		dst = appendInt64(dst, int64(u.Size))
		dst = appendInt64(dst, int64(u.PairedSize))
		dst = appendInt64(dst, int64(u.ReferencePrice))
		return appendTime(dst, u.Timestamp), nil
	case schema.SecurityInfo:
		dst = append(dst, RecordSecurityInfo)
		dst, err := appendSecurity(dst, u.Security)
		if err != nil {
			return nil, err
		}
		dst, err = appendString(dst, u.Name)
		if err != nil {
			return nil, err
		}
		return appendInt64(dst, int64(u.BoardLot)), nil
	default:
		return nil, errors.Wrapf(ErrUnknownRecord, "%T", update)
	}
}

// Decode parses one record produced by Encode.
func Decode(src []byte) (schema.Update, error) {
	if len(src) == 0 {
		return nil, ErrRecordTruncated
	}
	r := reader{data: src[1:]}
	switch src[0] {
	case RecordBbo:
		bbo := schema.BboQuote{
			Security: r.security(),
			Bid:      r.quote(schema.SideBid),
			Ask:      r.quote(schema.SideAsk),
		}
		bbo.Timestamp = r.time()
		return bbo, r.err()
	case RecordMarketQuote:
		quote := schema.MarketQuote{
			Security: r.security(),
			Venue:    r.str(),
			Bid:      r.quote(schema.SideBid),
			Ask:      r.quote(schema.SideAsk),
		}
		quote.Timestamp = r.time()
		return quote, r.err()
	case RecordBookQuote:
		quote := schema.BookQuote{
			Security: r.security(),
			Venue:    r.str(),
			MPID:     r.str(),
			Side:     schema.Side(r.byte()),
			Price:    schema.Price(r.int64()),
			Size:     schema.Quantity(r.int64()),
		}
		quote.Timestamp = r.time()
		return quote, r.err()
	case RecordTimeAndSale:
		print := schema.TimeAndSale{
			Security:     r.security(),
			Condition:    r.str(),
			MarketCenter: r.str(),
			Price:        schema.Price(r.int64()),
			Size:         schema.Quantity(r.int64()),
		}
		print.Timestamp = r.time()
		return print, r.err()
	case RecordImbalance:
		imbalance := schema.Imbalance{
			Security:       r.security(),
			Side:           schema.Side(r.byte()),
			Size:           schema.Quantity(r.int64()),
			PairedSize:     schema.Quantity(r.int64()),
			ReferencePrice: schema.Price(r.int64()),
		}
		imbalance.Timestamp = r.time()
		return imbalance, r.err()
	case RecordSecurityInfo:
		info := schema.SecurityInfo{
			Security: r.security(),
			Name:     r.str(),
		}
		info.BoardLot = schema.Quantity(r.int64())
		return info, r.err()
	default:
		return nil, errors.Wrapf(ErrUnknownRecord, "0x%02x", src[0])
	}
}

func appendSecurity(dst []byte, security schema.Security) ([]byte, error) {
	dst, err := appendString(dst, security.Symbol)
	if err != nil {
		return nil, err
	}
	return appendString(dst, security.Venue)
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, errors.Wrapf(ErrStringTooLong, "%d bytes", len(s))
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...), nil
}

func appendQuote(dst []byte, quote schema.Quote) []byte {
	dst = appendInt64(dst, int64(quote.Price))
	return appendInt64(dst, int64(quote.Size))
}

func appendInt64(dst []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}
