// Package instrument decides whether an OKX option and a Deribit option name
// the same contract.
package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type OptionType int

const (
	Call OptionType = iota + 1
	Put
)

func (t OptionType) String() string {
	switch t {
	case Call:
		return "C"
	case Put:
		return "P"
	default:
		return "?"
	}
}

// Instrument is the venue independent identity of an option.
type Instrument struct {
	Underlying string
	Expiry     time.Time
	Strike     uint32
	Type       OptionType
}

// Kind classifies a parse failure. Kinds are errors themselves so callers can
// write errors.Is(err, instrument.InvalidStrike).
type Kind int

const (
	InsufficientComponents Kind = iota + 1
	InvalidDate
	InvalidStrike
	InvalidOptionType
)

func (k Kind) String() string {
	switch k {
	case InsufficientComponents:
		return "insufficient components in symbol"
	case InvalidDate:
		return "invalid date"
	case InvalidStrike:
		return "invalid strike price"
	case InvalidOptionType:
		return "invalid option type"
	default:
		return "unknown instrument error"
	}
}

func (k Kind) Error() string { return k.String() }

type ParseError struct {
	Kind Kind
	// Input is the symbol or the component that failed.
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Input)
}

func (e *ParseError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

var months = map[string]time.Month{
	"JAN": time.January,
	"FEB": time.February,
	"MAR": time.March,
	"APR": time.April,
	"MAY": time.May,
	"JUN": time.June,
	"JUL": time.July,
	"AUG": time.August,
	"SEP": time.September,
	"OCT": time.October,
	"NOV": time.November,
	"DEC": time.December,
}

// SameInstrument parses both symbols and compares them. Any parse failure is
// returned as a *ParseError.
func SameInstrument(okx, deribit string) (bool, error) {
	a, err := ParseOKX(okx)
	if err != nil {
		return false, err
	}
	b, err := ParseDeribit(deribit)
	if err != nil {
		return false, err
	}
	return a == b, nil
}

// ParseOKX parses UL-QUOTE-YYMMDD-STRIKE-C|P, e.g. BTC-USD-251031-140000-P.
func ParseOKX(symbol string) (Instrument, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) < 5 {
		return Instrument{}, &ParseError{Kind: InsufficientComponents, Input: symbol}
	}

	expiry, err := parseYYMMDD(parts[2])
	if err != nil {
		return Instrument{}, err
	}
	return build(parts[0], expiry, parts[3], parts[4])
}

// ParseDeribit parses UL-DDMMMYY-STRIKE-C|P, e.g. BTC-31OCT25-140000-P.
func ParseDeribit(symbol string) (Instrument, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) < 4 {
		return Instrument{}, &ParseError{Kind: InsufficientComponents, Input: symbol}
	}

	expiry, err := parseDDMMMYY(parts[1])
	if err != nil {
		return Instrument{}, err
	}
	return build(parts[0], expiry, parts[2], parts[3])
}

func build(underlying string, expiry time.Time, strikeStr, typeStr string) (Instrument, error) {
	strike, err := strconv.ParseUint(strikeStr, 10, 32)
	if err != nil {
		return Instrument{}, &ParseError{Kind: InvalidStrike, Input: strikeStr}
	}

	var optType OptionType
	switch strings.ToUpper(typeStr) {
	case "C":
		optType = Call
	case "P":
		optType = Put
	default:
		return Instrument{}, &ParseError{Kind: InvalidOptionType, Input: typeStr}
	}

	return Instrument{
		Underlying: strings.ToUpper(underlying),
		Expiry:     expiry,
		Strike:     uint32(strike),
		Type:       optType,
	}, nil
}

func parseYYMMDD(s string) (time.Time, error) {
	if len(s) != 6 {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: s}
	}
	year, errY := strconv.Atoi(s[0:2])
	month, errM := strconv.Atoi(s[2:4])
	day, errD := strconv.Atoi(s[4:6])
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: s}
	}
	return date(s, year, time.Month(month), day)
}

// parseDDMMMYY reads the first seven characters; anything after them is
// ignored.
func parseDDMMMYY(s string) (time.Time, error) {
	if len(s) < 7 {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: s}
	}
	day, errD := strconv.Atoi(s[0:2])
	year, errY := strconv.Atoi(s[5:7])
	month, ok := months[strings.ToUpper(s[2:5])]
	if errD != nil || errY != nil || !ok {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: s}
	}
	return date(s, year, month, day)
}

// date maps a two digit year onto 2000-2099 and rejects days that do not
// exist in the month.
func date(input string, yy int, month time.Month, day int) (time.Time, error) {
	if yy < 0 || yy > 99 {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: input}
	}
	t := time.Date(2000+yy, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != 2000+yy || t.Month() != month || t.Day() != day {
		return time.Time{}, &ParseError{Kind: InvalidDate, Input: input}
	}
	return t, nil
}
