// Package wide converts between arbitrary-precision integers and the
// (low, high) pair of 128-bit words the vault contracts use for every amount.
package wide

import (
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/holiman/uint256"
)

const WordBits = 128

var (
	decimalPattern = regexp.MustCompile(`^[0-9]+$`)

	// MaxWord is 2^128 - 1.
	MaxWord = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), WordBits), big.NewInt(1))
	// Max is 2^256 - 1.
	Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 2*WordBits), big.NewInt(1))

	wordMask = uint256.MustFromBig(MaxWord)
)

// Int is an immutable unsigned integer in [0, 2^256-1]. The zero value is 0.
type Int struct {
	v uint256.Int
}

// FromBig range-checks value and returns it as an Int.
func FromBig(value *big.Int) (Int, error) {
	if value == nil {
		return Int{}, clierr.New(clierr.CodeValidation, "amount is required")
	}
	if value.Sign() < 0 {
		return Int{}, clierr.New(clierr.CodeValidation, "amount must be non-negative")
	}
	u, overflow := uint256.FromBig(value)
	if overflow {
		return Int{}, clierr.New(clierr.CodeValidation, "amount exceeds 2^256-1")
	}
	return Int{v: *u}, nil
}

// FromUint64 cannot fail.
func FromUint64(value uint64) Int {
	return Int{v: *uint256.NewInt(value)}
}

// ParseDecimal parses a base-10 string. Signs, fractions, hex prefixes and
// empty input are rejected instead of being read as zero.
func ParseDecimal(raw string) (Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return Int{}, clierr.New(clierr.CodeValidation, "amount is required")
	}
	if strings.HasPrefix(clean, "-") {
		return Int{}, clierr.New(clierr.CodeValidation, "amount must be non-negative")
	}
	if !decimalPattern.MatchString(clean) {
		return Int{}, clierr.New(clierr.CodeValidation, "amount must be a base-10 integer string")
	}
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return Int{}, clierr.New(clierr.CodeValidation, "amount must be a base-10 integer string")
	}
	return FromBig(n)
}

// Combine rebuilds high*2^128 + low. Both words must fit in 128 bits.
func Combine(low, high *big.Int) (Int, error) {
	if err := checkWord("low", low); err != nil {
		return Int{}, err
	}
	if err := checkWord("high", high); err != nil {
		return Int{}, err
	}
	lo, _ := uint256.FromBig(low)
	hi, _ := uint256.FromBig(high)
	out := new(uint256.Int).Lsh(hi, WordBits)
	out.Or(out, lo)
	return Int{v: *out}, nil
}

// Split returns low = v mod 2^128 and high = v div 2^128.
func Split(v Int) (low, high *big.Int) {
	return v.Low(), v.High()
}

func checkWord(name string, w *big.Int) error {
	if w == nil {
		return clierr.New(clierr.CodeValidation, name+" word is missing")
	}
	if w.Sign() < 0 || w.Cmp(MaxWord) > 0 {
		return clierr.New(clierr.CodeValidation, name+" word out of 128-bit range")
	}
	return nil
}

func (i Int) Low() *big.Int {
	return new(uint256.Int).And(&i.v, wordMask).ToBig()
}

func (i Int) High() *big.Int {
	return new(uint256.Int).Rsh(&i.v, WordBits).ToBig()
}

func (i Int) Big() *big.Int { return i.v.ToBig() }

// Hex is lowercase with no leading zeros; zero renders as "0x0".
func (i Int) Hex() string { return i.v.Hex() }

func (i Int) String() string { return i.v.Dec() }

func (i Int) IsZero() bool { return i.v.IsZero() }

func (i Int) Cmp(other Int) int { return i.v.Cmp(&other.v) }

// Words returns the calldata arguments for an amount: low then high.
func (i Int) Words() []any {
	return []any{i.Low(), i.High()}
}

func (i Int) MarshalText() ([]byte, error) {
	return []byte(i.Hex()), nil
}

// FromWordValues combines a (low, high) pair as returned by an ABI decoder.
func FromWordValues(low, high any) (Int, error) {
	lo, ok := low.(*big.Int)
	if !ok {
		return Int{}, clierr.New(clierr.CodeInternal, "unexpected low word type in contract result")
	}
	hi, ok := high.(*big.Int)
	if !ok {
		return Int{}, clierr.New(clierr.CodeInternal, "unexpected high word type in contract result")
	}
	out, err := Combine(lo, hi)
	if err != nil {
		return Int{}, clierr.Wrap(clierr.CodeInternal, "decode contract amount", err)
	}
	return out, nil
}
