package codes

import (
	"strconv"
	"testing"
)

func TestGenerate_SixDigitsInRange(t *testing.T) {
	for i := 0; i < 5000; i++ {
		c := Generate()
		if !Valid(c) {
			t.Fatalf("generated invalid code %q", c)
		}
		n, err := strconv.Atoi(c)
		if err != nil {
			t.Fatalf("atoi: %v", err)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("code %q out of range", c)
		}
	}
}

func TestGenerate_NotConstant(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		seen[Generate()] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected varying codes, got %v", seen)
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
		"１２３４５６":  false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
