package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBaseUnits(t *testing.T) {
	t.Run("whole numbers", func(t *testing.T) {
		v, err := ToBaseUnits("1", 18)
		assert.NoError(t, err)
		assert.Equal(t, "1000000000000000000", v.String())
	})

	t.Run("fractional amounts", func(t *testing.T) {
		v, err := ToBaseUnits("0.15", 18)
		assert.NoError(t, err)
		assert.Equal(t, "150000000000000000", v.String())

		v, err = ToBaseUnits("0.05", 18)
		assert.NoError(t, err)
		assert.Equal(t, "50000000000000000", v.String())
	})

	t.Run("six decimal token", func(t *testing.T) {
		v, err := ToBaseUnits("12.5", 6)
		assert.NoError(t, err)
		assert.Equal(t, "12500000", v.String())
	})

	t.Run("leading dot", func(t *testing.T) {
		v, err := ToBaseUnits(".25", 6)
		assert.NoError(t, err)
		assert.Equal(t, "250000", v.String())
	})

	t.Run("zero", func(t *testing.T) {
		v, err := ToBaseUnits("0", 18)
		assert.NoError(t, err)
		assert.Equal(t, "0", v.String())
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ToBaseUnits("", 18)
		assert.ErrorIs(t, err, ErrMalformedAmount)
	})

	t.Run("rejects negative", func(t *testing.T) {
		_, err := ToBaseUnits("-1.5", 18)
		assert.ErrorIs(t, err, ErrMalformedAmount)
	})

	t.Run("rejects non-numeric", func(t *testing.T) {
		for _, s := range []string{"abc", "1.2.3", "1,5", "0x10", "1e5", "."} {
			_, err := ToBaseUnits(s, 18)
			assert.ErrorIs(t, err, ErrMalformedAmount, "input %q", s)
		}
	})

	t.Run("rejects excess fractional digits", func(t *testing.T) {
		_, err := ToBaseUnits("0.1234567", 6)
		assert.ErrorIs(t, err, ErrMalformedAmount)

		// Exactly at the limit is fine.
		v, err := ToBaseUnits("0.123456", 6)
		assert.NoError(t, err)
		assert.Equal(t, "123456", v.String())
	})
}

func TestToDecimalString(t *testing.T) {
	t.Run("trims trailing zeros", func(t *testing.T) {
		v := big.NewInt(150000000000000000)
		assert.Equal(t, "0.15", ToDecimalString(v, 18))
	})

	t.Run("whole amounts drop the point", func(t *testing.T) {
		v, _ := new(big.Int).SetString("2000000000000000000", 10)
		assert.Equal(t, "2", ToDecimalString(v, 18))
	})

	t.Run("zero decimals", func(t *testing.T) {
		assert.Equal(t, "42", ToDecimalString(big.NewInt(42), 0))
	})

	t.Run("nil is zero", func(t *testing.T) {
		assert.Equal(t, "0", ToDecimalString(nil, 18))
	})

	t.Run("small fractions pad with zeros", func(t *testing.T) {
		assert.Equal(t, "0.000001", ToDecimalString(big.NewInt(1), 6))
	})
}

func TestRoundTrip(t *testing.T) {
	cases := map[string]string{
		"0.05":                 "0.05",
		"0.050":                "0.05", // trailing zero normalization
		"1":                    "1",
		"1.0":                  "1",
		"0.15":                 "0.15",
		"123.4567":             "123.4567",
		"0":                    "0",
		"0.000000000000000001": "0.000000000000000001",
	}

	for in, want := range cases {
		v, err := ToBaseUnits(in, 18)
		assert.NoError(t, err, "input %q", in)
		assert.Equal(t, want, ToDecimalString(v, 18), "input %q", in)
	}
}

func TestTokenParseFormat(t *testing.T) {
	tok := Token{Symbol: "OG", Decimals: 18}

	v, err := tok.Parse("0.1")
	assert.NoError(t, err)
	assert.Equal(t, "100000000000000000", v.String())
	assert.Equal(t, "0.1", tok.Format(v))
}
