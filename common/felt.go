package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// FieldPrime is the modulus every machine value cell lives under: 2^251 + 17*2^192 + 1.
var FieldPrime = uint256.MustFromHex("0x800000000000011000000000000000000000000000000000000000000000001")

// mask250 keeps the low 250 bits of a keccak digest (starknet-keccak).
var mask250 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 250), uint256.NewInt(1))

// Felt is a field element. The zero value is the element 0.
type Felt uint256.Int

func NewFelt(x uint64) Felt {
	return Felt(*uint256.NewInt(x))
}

// FeltFromInt64 maps negative values to P - |x|.
func FeltFromInt64(x int64) Felt {
	if x >= 0 {
		return NewFelt(uint64(x))
	}
	var r uint256.Int
	r.Sub(FieldPrime, uint256.NewInt(uint64(-x)))
	return Felt(r)
}

// FeltFromUint256 reduces v modulo the field prime.
func FeltFromUint256(v *uint256.Int) Felt {
	var r uint256.Int
	r.Mod(v, FieldPrime)
	return Felt(r)
}

// FeltFromBytes interprets b as a big-endian integer and reduces it modulo the field prime.
func FeltFromBytes(b []byte) Felt {
	var v uint256.Int
	v.SetBytes(b)
	return FeltFromUint256(&v)
}

// FeltFromString parses a 0x-prefixed hex or a decimal string. Values outside the
// field are rejected rather than reduced.
func FeltFromString(s string) (Felt, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	if digits == "" {
		return Felt{}, fmt.Errorf("invalid felt %q", s)
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok || b.Sign() < 0 {
		return Felt{}, fmt.Errorf("invalid felt %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || !v.Lt(FieldPrime) {
		return Felt{}, fmt.Errorf("felt %q out of field range", s)
	}
	return Felt(*v), nil
}

func MustFeltFromString(s string) Felt {
	f, err := FeltFromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FeltFromShortString encodes up to 31 ASCII characters big-endian, the way syscall
// selectors and short names are written into machine memory.
func FeltFromShortString(s string) Felt {
	if len(s) > 31 {
		s = s[:31]
	}
	return FeltFromBytes([]byte(s))
}

// SelectorFromName derives an entry-point selector: keccak256(name) truncated to 250 bits.
func SelectorFromName(name string) Felt {
	var v uint256.Int
	v.SetBytes(crypto.Keccak256([]byte(name)))
	v.And(&v, mask250)
	return Felt(v)
}

func FeltFromHash(h Hash) Felt {
	return FeltFromBytes(h[:])
}

func (f Felt) Uint256() *uint256.Int {
	v := uint256.Int(f)
	return &v
}

func (f Felt) Add(g Felt) Felt {
	var r uint256.Int
	r.AddMod(f.Uint256(), g.Uint256(), FieldPrime)
	return Felt(r)
}

func (f Felt) Sub(g Felt) Felt {
	a, b := f.Uint256(), g.Uint256()
	var r uint256.Int
	if a.Lt(b) {
		r.Sub(FieldPrime, b)
		r.Add(&r, a)
	} else {
		r.Sub(a, b)
	}
	return Felt(r)
}

func (f Felt) Mul(g Felt) Felt {
	var r uint256.Int
	r.MulMod(f.Uint256(), g.Uint256(), FieldPrime)
	return Felt(r)
}

func (f Felt) IsZero() bool {
	return f.Uint256().IsZero()
}

func (f Felt) Cmp(g Felt) int {
	return f.Uint256().Cmp(g.Uint256())
}

// Uint64 returns the value and whether it fits in 64 bits.
func (f Felt) Uint64() (uint64, bool) {
	v := f.Uint256()
	return v.Uint64(), v.IsUint64()
}

// Int64 interprets the felt as a signed value in (-P/2, P/2].
func (f Felt) Int64() (int64, bool) {
	if u, ok := f.Uint64(); ok && u <= 1<<63-1 {
		return int64(u), true
	}
	neg := NewFelt(0).Sub(f)
	if u, ok := neg.Uint64(); ok && u < 1<<63 {
		return -int64(u), true
	}
	return 0, false
}

func (f Felt) BitLen() int {
	return f.Uint256().BitLen()
}

func (f Felt) Bytes32() [32]byte {
	return f.Uint256().Bytes32()
}

func (f Felt) Hash() Hash {
	return Hash(f.Bytes32())
}

func (f Felt) Hex() string {
	return f.Uint256().Hex()
}

func (f Felt) String() string {
	return f.Hex()
}

func (f Felt) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Hex())
}

// UnmarshalJSON accepts a hex or decimal string, or a bare JSON number.
func (f *Felt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("felt: %w", err)
		}
		s = n.String()
	}
	v, err := FeltFromString(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// MarshalText lets Felt act as a JSON object key.
func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

func (f *Felt) UnmarshalText(text []byte) error {
	v, err := FeltFromString(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FeltsFromUint64s is a convenience for building calldata.
func FeltsFromUint64s(xs ...uint64) []Felt {
	out := make([]Felt, len(xs))
	for i, x := range xs {
		out[i] = NewFelt(x)
	}
	return out
}
