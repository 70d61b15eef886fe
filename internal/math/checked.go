package math

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Overflow or underflow on a balance is a broken invariant, never a user error.
// All helpers below allocate a fresh result and leave their inputs untouched.

func MustAdd(x, y *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		panic(fmt.Sprintf("FATAL: add overflow: %s + %s", x.Dec(), y.Dec()))
	}
	return z
}

func MustSub(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		panic(fmt.Sprintf("FATAL: sub underflow: %s - %s", x.Dec(), y.Dec()))
	}
	return z
}

func MustMul(x, y *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		panic(fmt.Sprintf("FATAL: mul overflow: %s * %s", x.Dec(), y.Dec()))
	}
	return z
}

// MulDivFloor returns floor(x*y/d) with a 512-bit intermediate product
func MulDivFloor(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic("FATAL: division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		panic(fmt.Sprintf("FATAL: muldiv overflow: %s * %s / %s", x.Dec(), y.Dec(), d.Dec()))
	}
	return z
}

// MulDivCeil returns ceil(x*y/d)
func MulDivCeil(x, y, d *uint256.Int) *uint256.Int {
	z := MulDivFloor(x, y, d)
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		z = MustAdd(z, uint256.NewInt(1))
	}
	return z
}

// Min returns a copy of the smaller operand
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}
