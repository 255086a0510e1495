package group

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	p := Params{AddrLength: 4, MaxGroupID: 10}
	for _, ok := range []string{"aaaa", "AAAA", "12ab", "äöüß"} {
		if _, err := p.ParseAddress(ok); err != nil {
			t.Fatalf("ParseAddress(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "aaa", "aaaaa"} {
		if _, err := p.ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q) err = %v", bad, err)
		}
	}
	if _, err := p.ParseAddressValue(1234); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("ParseAddressValue(1234) err = %v", err)
	}
}

func TestParseGroupIDValue(t *testing.T) {
	p := Params{AddrLength: 4, MaxGroupID: 10}
	good := []any{1, int64(10), int32(5), float64(7), json.Number("3"), GroupID(2)}
	for _, v := range good {
		if _, err := p.ParseGroupIDValue(v); err != nil {
			t.Fatalf("ParseGroupIDValue(%v): %v", v, err)
		}
	}
	bad := []any{0, 11, -1, 1.5, json.Number("1.5"), "1", []int{1}, nil, int64(1 << 40)}
	for _, v := range bad {
		if _, err := p.ParseGroupIDValue(v); !errors.Is(err, ErrInvalidGroupIDRange) {
			t.Fatalf("ParseGroupIDValue(%v) err = %v", v, err)
		}
	}
}
