package roundup

import "math/big"

// Savings returns the distance from amount up to the next multiple of unit,
// which is always in [0, unit).
// It works on the remainder so the result never exceeds the width of its
// inputs. A non-positive unit yields zero.
func Savings(amount, unit *big.Int) *big.Int {
	if unit == nil || unit.Sign() <= 0 || amount == nil {
		return new(big.Int)
	}
	rem := new(big.Int).Mod(amount, unit)
	if rem.Sign() == 0 {
		return rem
	}
	return rem.Sub(unit, rem)
}
