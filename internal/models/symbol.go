package models

import (
	"fmt"
	"strconv"
	"strings"
)

// occStrikeWidth is the fixed width of the strike suffix in an OCC
// option symbol, e.g. "SPXW  250919C06400000" -> 06400000 -> 6400.00.
const occStrikeWidth = 8

// ParseStrike extracts the strike price from an option symbol.
//
// The primary format is OCC: root (padded), yymmdd, C/P, then an
// 8-digit strike in thousandths of a dollar. Symbols that only carry a
// bare trailing digit run (some legacy fills) are parsed the same way
// from that run. Anything else is an error; callers skip the
// position's notional-risk contribution rather than guessing.
func ParseStrike(symbol string) (float64, error) {
	s := strings.TrimSpace(symbol)
	if len(s) > occStrikeWidth {
		suffix := s[len(s)-occStrikeWidth:]
		typ := s[len(s)-occStrikeWidth-1]
		if (typ == 'C' || typ == 'P') && allDigits(suffix) {
			thousandths, err := strconv.ParseInt(suffix, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing strike suffix of %q: %w", symbol, err)
			}
			return float64(thousandths) / 1000.0, nil
		}
	}

	// Legacy fallback: trailing digit run without the C/P marker.
	run := trailingDigits(s)
	if len(run) >= occStrikeWidth {
		thousandths, err := strconv.ParseInt(run[len(run)-occStrikeWidth:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing strike suffix of %q: %w", symbol, err)
		}
		return float64(thousandths) / 1000.0, nil
	}

	return 0, fmt.Errorf("symbol %q has no parseable strike suffix", symbol)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

// LegStrikes parses the distinct strikes across an order's legs.
// Returns an error naming the first unparseable symbol.
func LegStrikes(legs []OrderLeg) ([]float64, error) {
	seen := make(map[float64]struct{}, len(legs))
	strikes := make([]float64, 0, len(legs))
	for i := range legs {
		strike, err := ParseStrike(legs[i].Instrument.Symbol)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[strike]; dup {
			continue
		}
		seen[strike] = struct{}{}
		strikes = append(strikes, strike)
	}
	return strikes, nil
}
