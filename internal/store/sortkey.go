package store

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// keyScale and keyWidth fix the precision and digit width used to turn a
// decimal price into a string that sorts lexically the same way it sorts
// numerically. 18 fractional places matches the widest asset decimals in
// the catalogue (ETH, DAI); a 40-digit key leaves 22 integer digits, which
// is comfortably beyond any realistic price.
const (
	keyScale = 18
	keyWidth = 40
)

var keyModulus = new(big.Int).Exp(big.NewInt(10), big.NewInt(keyWidth), nil)

// priceSortKey renders price as a fixed-width, zero-padded decimal digit
// string so that ascending lexical order equals ascending numeric order.
// Prices in this system are always positive, so no sign handling is needed.
func priceSortKey(price decimal.Decimal) string {
	scaled := price.Shift(keyScale).BigInt()
	return fmt.Sprintf("%0*s", keyWidth, scaled.String())
}

// invertedPriceSortKey renders price so that ascending lexical order of the
// result equals DESCENDING numeric order of price — used for the bid side
// of the book so a single ascending btree walk yields best-price-first.
func invertedPriceSortKey(price decimal.Decimal) string {
	scaled := price.Shift(keyScale).BigInt()
	inverted := new(big.Int).Sub(keyModulus, scaled)
	return fmt.Sprintf("%0*s", keyWidth, inverted.String())
}
