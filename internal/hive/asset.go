package hive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAsset indicates an amount string like "1.000 HIVE" that
// cannot be encoded.
var ErrInvalidAsset = errors.New("hive: invalid asset")

// Asset is a fixed-point amount with its symbol.
type Asset struct {
	Amount    int64
	Precision uint8
	Symbol    string

	wireSymbol string
}

type assetInfo struct {
	precision uint8
	wire      string
}

// Mainnet still spells HIVE and HBD with their pre-fork names on the wire.
var (
	mainnetAssets = map[string]assetInfo{
		"HIVE":  {3, "STEEM"},
		"STEEM": {3, "STEEM"},
		"HBD":   {3, "SBD"},
		"SBD":   {3, "SBD"},
		"VESTS": {6, "VESTS"},
	}
	testnetAssets = map[string]assetInfo{
		"HIVE":  {3, "TESTS"},
		"TESTS": {3, "TESTS"},
		"HBD":   {3, "TBD"},
		"TBD":   {3, "TBD"},
		"VESTS": {6, "VESTS"},
	}
)

// ParseAsset reads the legacy "amount SYMBOL" form. Amounts are
// non-negative; the fractional part may be shorter than the symbol's
// precision but never longer.
func ParseAsset(s string, chain Chain) (Asset, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	table := mainnetAssets
	if chain.Testnet {
		table = testnetAssets
	}
	info, ok := table[fields[1]]
	if !ok {
		return Asset{}, fmt.Errorf("%w: unknown symbol %q", ErrInvalidAsset, fields[1])
	}
	whole, frac, _ := strings.Cut(fields[0], ".")
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) || len(frac) > int(info.precision) {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	frac += strings.Repeat("0", int(info.precision)-len(frac))
	amount, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	return Asset{Amount: amount, Precision: info.precision, Symbol: fields[1], wireSymbol: info.wire}, nil
}

func (a Asset) String() string {
	digits := strconv.FormatInt(a.Amount, 10)
	p := int(a.Precision)
	if p == 0 {
		return digits + " " + a.Symbol
	}
	if len(digits) <= p {
		digits = strings.Repeat("0", p-len(digits)+1) + digits
	}
	return digits[:len(digits)-p] + "." + digits[len(digits)-p:] + " " + a.Symbol
}

func isDigits(s string) bool {
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
