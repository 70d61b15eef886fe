package math

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision for one asset
type DecimalConfig struct {
	Symbol   string
	Decimals uint8
}

var (
	// Defaults of the reference sale
	PaymentAssetConfig = DecimalConfig{Symbol: "USDT", Decimals: 18}
	SaleAssetConfig    = DecimalConfig{Symbol: "SHLZ", Decimals: 18}
)

// MaxDecimals bounds the precision so 10^Decimals always fits.
const MaxDecimals = 36

// Scale returns 10^Decimals
func (d DecimalConfig) Scale() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(d.Decimals)))
}

// Units converts a whole-token count into base units
func (d DecimalConfig) Units(whole uint64) *uint256.Int {
	return MustMul(uint256.NewInt(whole), d.Scale())
}

// ParseUnits parses a human decimal string ("1333", "0.5") into base units.
// More fractional digits than Decimals is an error, not a silent truncation.
func (d DecimalConfig) ParseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(d.Decimals) {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, d.Decimals)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("amount %q is not an unsigned decimal", s)
		}
	}

	frac += strings.Repeat("0", int(d.Decimals)-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}

	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}

// FormatUnits renders base units as a human decimal string with trailing zeros trimmed
func (d DecimalConfig) FormatUnits(v *uint256.Int) string {
	digits := v.Dec()
	if d.Decimals == 0 {
		return digits
	}

	n := int(d.Decimals)
	if len(digits) <= n {
		digits = strings.Repeat("0", n-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-n]
	frac := strings.TrimRight(digits[len(digits)-n:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParseAmount parses a base-unit decimal string (no fractional part).
// Used by the wire formats, which always carry raw base units.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}
