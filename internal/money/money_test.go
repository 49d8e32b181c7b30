package money

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFromMajor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"whole amount", "10", 10_000_000, false},
		{"two decimals", "10.50", 10_500_000, false},
		{"six decimals", "1.234567", 1_234_567, false},
		{"rounds half up", "0.0000005", 1, false},
		{"rounds down below half", "0.0000004", 0, false},
		{"leading dot", ".5", 500_000, false},
		{"trailing dot", "5.", 5_000_000, false},
		{"negative", "-2.25", -2_250_000, false},
		{"explicit plus", "+1", 1_000_000, false},
		{"zero", "0", 0, false},
		{"whitespace", "  3.00  ", 3_000_000, false},
		{"empty", "", 0, true},
		{"double dot", "1.2.3", 0, true},
		{"garbage", "abc", 0, true},
		{"bare dot", ".", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMajor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromMajor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.Atomic != tt.want {
				t.Errorf("FromMajor(%q) = %d, want %d", tt.input, got.Atomic, tt.want)
			}
		})
	}
}

func TestToMajor(t *testing.T) {
	tests := []struct {
		name   string
		atomic int64
		want   string
	}{
		{"zero", 0, "0.000000"},
		{"one usdc", 1_000_000, "1.000000"},
		{"sub-cent", 100, "0.000100"},
		{"large", 123_456_789_012, "123456.789012"},
		{"negative", -2_250_000, "-2.250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromAtomic(tt.atomic).ToMajor()
			if got != tt.want {
				t.Errorf("ToMajor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMajorRoundTrip(t *testing.T) {
	values := []string{"0.000001", "1.000000", "42.420000", "999999.999999"}
	for _, v := range values {
		a, err := FromMajor(v)
		if err != nil {
			t.Fatalf("FromMajor(%q): %v", v, err)
		}
		if got := a.ToMajor(); got != v {
			t.Errorf("round trip %q -> %q", v, got)
		}
	}
}

func TestAddSubOverflow(t *testing.T) {
	a := FromAtomic(math.MaxInt64)
	if _, err := a.Add(FromAtomic(1)); err != ErrOverflow {
		t.Errorf("Add overflow: got %v, want ErrOverflow", err)
	}

	b := FromAtomic(math.MinInt64)
	if _, err := b.Sub(FromAtomic(1)); err != ErrOverflow {
		t.Errorf("Sub underflow: got %v, want ErrOverflow", err)
	}

	sum, err := FromAtomic(1_000_000).Add(FromAtomic(500_000))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Atomic != 1_500_000 {
		t.Errorf("Add = %d, want 1500000", sum.Atomic)
	}
}

func TestComparisons(t *testing.T) {
	one := MustFromMajor("1")
	two := MustFromMajor("2")

	if !one.LessThan(two) || two.LessThan(one) {
		t.Error("LessThan misordered")
	}
	if !two.GreaterThan(one) {
		t.Error("GreaterThan misordered")
	}
	if one.Cmp(two) != -1 || two.Cmp(one) != 1 || one.Cmp(one) != 0 {
		t.Error("Cmp misordered")
	}
	if !one.IsPositive() || one.IsZero() || one.IsNegative() {
		t.Error("sign predicates wrong for positive amount")
	}
	if !one.Negate().IsNegative() {
		t.Error("Negate did not flip sign")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Amount Amount `json:"amount"`
	}

	in := payload{Amount: MustFromMajor("12.340000")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"amount":"12.340000"}` {
		t.Errorf("Marshal = %s", data)
	}

	var out payload
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Amount.Equal(in.Amount) {
		t.Errorf("round trip = %v, want %v", out.Amount, in.Amount)
	}

	// Bare numbers also accepted
	var fromNumber payload
	if err := json.Unmarshal([]byte(`{"amount":2.5}`), &fromNumber); err != nil {
		t.Fatalf("Unmarshal number: %v", err)
	}
	if fromNumber.Amount.Atomic != 2_500_000 {
		t.Errorf("number amount = %d, want 2500000", fromNumber.Amount.Atomic)
	}
}

func TestParseAtomic(t *testing.T) {
	a, err := ParseAtomic("100000")
	if err != nil {
		t.Fatalf("ParseAtomic: %v", err)
	}
	if a.ToMajor() != "0.100000" {
		t.Errorf("ParseAtomic(100000) = %s, want 0.100000", a.ToMajor())
	}

	if _, err := ParseAtomic("not-a-number"); err == nil {
		t.Error("ParseAtomic accepted garbage")
	}
}
