package group

import (
	"encoding/json"
	"math"
	"unicode/utf8"
)

// Address is an account address that passed validation.
type Address string

// GroupID is a group identifier in [1, Params.MaxGroupID].
type GroupID int

// Params holds the validation bounds shared by every mutating operation.
type Params struct {
	AddrLength int
	MaxGroupID int
}

// ParseAddress checks that s has exactly AddrLength runes.
func (p Params) ParseAddress(s string) (Address, error) {
	if utf8.RuneCountInString(s) != p.AddrLength {
		return "", invalidf(ErrInvalidAddress, "%q (want length %d)", s, p.AddrLength)
	}
	return Address(s), nil
}

// ParseAddressValue is ParseAddress for loosely typed input such as decoded
// JSON. Anything that is not a string is an invalid address.
func (p Params) ParseAddressValue(v any) (Address, error) {
	switch s := v.(type) {
	case string:
		return p.ParseAddress(s)
	case Address:
		return p.ParseAddress(string(s))
	default:
		return "", invalidf(ErrInvalidAddress, "%v is %T, not a string", v, v)
	}
}

// ParseGroupID checks that n lies in [1, MaxGroupID].
func (p Params) ParseGroupID(n int) (GroupID, error) {
	if n < 1 || n > p.MaxGroupID {
		return 0, invalidf(ErrInvalidGroupIDRange, "%d not in [1, %d]", n, p.MaxGroupID)
	}
	return GroupID(n), nil
}

// ParseGroupIDValue accepts Go integers, integral float64 values and
// json.Number. Any other type is reported as out of range.
func (p Params) ParseGroupIDValue(v any) (GroupID, error) {
	switch n := v.(type) {
	case int:
		return p.ParseGroupID(n)
	case int32:
		return p.ParseGroupID(int(n))
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalidf(ErrInvalidGroupIDRange, "%d not in [1, %d]", n, p.MaxGroupID)
		}
		return p.ParseGroupID(int(n))
	case GroupID:
		return p.ParseGroupID(int(n))
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalidf(ErrInvalidGroupIDRange, "%v is not an integer in [1, %d]", n, p.MaxGroupID)
		}
		return p.ParseGroupID(int(n))
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, invalidf(ErrInvalidGroupIDRange, "%q is not an integer", n.String())
		}
		return p.ParseGroupIDValue(i)
	default:
		return 0, invalidf(ErrInvalidGroupIDRange, "%v is %T, not an integer", v, v)
	}
}
