package domain

import (
	"fmt"
	"strings"
)

// Pair identifies a trading pair the way the feed expects it, e.g. BTCUSDT.
type Pair string

func NewPair(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: pair must not be empty", ErrInvalidPair)
	}

	s = strings.ToUpper(s)
	for _, r := range s {
		if !isPairRune(r) {
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidPair, r, s)
		}
	}

	return Pair(s), nil
}

func isPairRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

func (p Pair) String() string {
	return string(p)
}

// Lower is the form used in exchange stream names (btcusdt@bookTicker).
func (p Pair) Lower() string {
	return strings.ToLower(string(p))
}

func (p Pair) IsZero() bool {
	return p == ""
}

// Split separates the pair into base and quote assets using the first quote
// asset from quotes that the pair ends with. Separators already present in the
// pair (BTC-USDT, BTC_USDT) take precedence.
func (p Pair) Split(quotes []string) (base string, quote string, ok bool) {
	s := string(p)
	if i := strings.IndexAny(s, "-_"); i > 0 && i < len(s)-1 {
		return s[:i], s[i+1:], true
	}

	for _, q := range quotes {
		q = strings.ToUpper(q)
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q), q, true
		}
	}

	return "", "", false
}

// Join renders the pair with the given separator between base and quote.
func (p Pair) Join(separator string, quotes []string) (string, error) {
	base, quote, ok := p.Split(quotes)
	if !ok {
		return "", fmt.Errorf("%w: cannot split %s into base and quote", ErrInvalidPair, p)
	}
	return fmt.Sprintf("%s%s%s", base, separator, quote), nil
}
