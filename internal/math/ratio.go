package math

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Ratio is an exact rational Num/Den used for prices and release fractions
type Ratio struct {
	Num uint64 `json:"num" mapstructure:"num"`
	Den uint64 `json:"den" mapstructure:"den"`
}

func NewRatio(num, den uint64) Ratio {
	return Ratio{Num: num, Den: den}
}

func (r Ratio) Valid() bool {
	return r.Den != 0
}

// IsProperFraction reports 0 < r < 1
func (r Ratio) IsProperFraction() bool {
	return r.Den != 0 && r.Num > 0 && r.Num < r.Den
}

// Complement returns 1 - r. r must satisfy Num <= Den.
func (r Ratio) Complement() Ratio {
	if r.Num > r.Den {
		panic(fmt.Sprintf("FATAL: complement of improper ratio %d/%d", r.Num, r.Den))
	}
	return Ratio{Num: r.Den - r.Num, Den: r.Den}
}

// MulFloor returns floor(x * r)
func (r Ratio) MulFloor(x *uint256.Int) *uint256.Int {
	return MulDivFloor(x, uint256.NewInt(r.Num), uint256.NewInt(r.Den))
}

// MulCeil returns ceil(x * r)
func (r Ratio) MulCeil(x *uint256.Int) *uint256.Int {
	return MulDivCeil(x, uint256.NewInt(r.Num), uint256.NewInt(r.Den))
}

// Cmp compares two ratios exactly by cross multiplication
func (r Ratio) Cmp(o Ratio) int {
	lhs := MustMul(uint256.NewInt(r.Num), uint256.NewInt(o.Den))
	rhs := MustMul(uint256.NewInt(o.Num), uint256.NewInt(r.Den))
	return lhs.Cmp(rhs)
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
