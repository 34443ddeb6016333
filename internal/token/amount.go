package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrMalformedAmount is returned for decimal strings the escrow token cannot
// represent exactly: empty, negative, non-numeric, or with more fractional
// digits than the token's decimals allow.
var ErrMalformedAmount = errors.New("malformed amount")

// Token describes the payment token the escrow contract settles in.
type Token struct {
	Symbol   string
	Decimals int
}

// ToBaseUnits converts a human-entered decimal string into the token's
// fixed-point integer representation. The conversion is exact; there is no
// floating point anywhere in the path.
func ToBaseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrMalformedAmount, s)
	}
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, fmt.Errorf("%w: non-numeric %q", ErrMalformedAmount, s)
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("%w: %q has %d fractional digits, token supports %d",
			ErrMalformedAmount, s, len(fracPart), decimals)
	}

	padded := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	v, ok := new(big.Int).SetString(padded, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	return v, nil
}

// ToDecimalString renders a base-unit integer as a decimal string, trimming
// trailing fractional zeros. The round trip through ToBaseUnits preserves
// sign and magnitude exactly.
func ToDecimalString(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		sign = "-"
	}

	digits := abs.String()
	if decimals == 0 {
		return sign + digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-decimals]
	fracPart := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if fracPart == "" {
		return sign + intPart
	}
	return sign + intPart + "." + fracPart
}

// Parse converts a decimal string using the token's own decimals.
func (t Token) Parse(s string) (*big.Int, error) {
	return ToBaseUnits(s, t.Decimals)
}

// Format renders base units using the token's own decimals.
func (t Token) Format(v *big.Int) string {
	return ToDecimalString(v, t.Decimals)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
