package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNullFloat_NormalizesNonFinite(t *testing.T) {
	tests := []struct {
		name string
		in   float64
	}{
		{"NaN", math.NaN()},
		{"PosInf", math.Inf(1)},
		{"NegInf", math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Float(tt.in)
			if f.Valid {
				t.Errorf("Float(%v) should be absent", tt.in)
			}
			data, err := json.Marshal(f)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != "null" {
				t.Errorf("expected null, got %s", data)
			}
			if f.String() != "" {
				t.Errorf("expected empty CSV cell, got %q", f.String())
			}
		})
	}
}

func TestNullFloat_FromCSV(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  float64
	}{
		{"", false, 0},
		{"  ", false, 0},
		{"garbage", false, 0},
		{"123.5", true, 123.5},
		{" 7 ", true, 7},
		{"-0.05", true, -0.05},
	}
	for _, tt := range tests {
		got := NullFloatFrom(tt.in)
		if got.Valid != tt.valid {
			t.Errorf("NullFloatFrom(%q).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
		}
		if got.Valid && got.Float64 != tt.want {
			t.Errorf("NullFloatFrom(%q) = %v, want %v", tt.in, got.Float64, tt.want)
		}
	}
}

func TestNullFloat_JSONRoundTrip(t *testing.T) {
	in := Float(42.25)
	data, _ := json.Marshal(in)

	var out NullFloat
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Valid || out.Float64 != 42.25 {
		t.Errorf("round trip lost value: %+v", out)
	}

	var absent NullFloat
	if err := json.Unmarshal([]byte("null"), &absent); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if absent.Valid {
		t.Error("null should unmarshal to absent")
	}
}

func TestNullBool_CSVForm(t *testing.T) {
	if got := Bool(true).String(); got != "1" {
		t.Errorf("true = %q, want 1", got)
	}
	if got := Bool(false).String(); got != "0" {
		t.Errorf("false = %q, want 0", got)
	}
	if got := (NullBool{}).String(); got != "" {
		t.Errorf("absent = %q, want empty", got)
	}
	if !NullBoolFrom("1").Bool || !NullBoolFrom("true").Bool {
		t.Error("1/true should parse as true")
	}
	if NullBoolFrom("0").Bool || NullBoolFrom("false").Bool {
		t.Error("0/false should parse as false")
	}
	if NullBoolFrom("").Valid {
		t.Error("empty cell should be absent")
	}
}

func TestNullString_EmptyIsAbsent(t *testing.T) {
	if Str("").Valid {
		t.Error("empty string should be absent")
	}
	data, _ := json.Marshal(Str(""))
	if string(data) != "null" {
		t.Errorf("expected null, got %s", data)
	}
	if !Str("YP").Valid {
		t.Error("non-empty string should be valid")
	}
}

func TestDate_ParseAndString(t *testing.T) {
	d := ParseDate("2025-06-02")
	if d.String() != "2025-06-02" {
		t.Errorf("got %q", d.String())
	}
	if !ParseDate("junk").IsZero() {
		t.Error("malformed date should be zero")
	}
	if ParseDate("").String() != "" {
		t.Error("zero date should render empty")
	}

	data, _ := json.Marshal(Date{})
	if string(data) != "null" {
		t.Errorf("zero date JSON = %s, want null", data)
	}
}

func TestDate_Arithmetic(t *testing.T) {
	d := ParseDate("2025-06-02")
	if got := d.AddDays(-3).String(); got != "2025-05-30" {
		t.Errorf("AddDays(-3) = %s", got)
	}
	if got := d.DaysSince(ParseDate("2025-05-30")); got != 3 {
		t.Errorf("DaysSince = %d, want 3", got)
	}
}

func TestSnapshotRow_Feature(t *testing.T) {
	row := SnapshotRow{
		Ret1:                  Float(0.02),
		TopBuyerConcentration: Float(0.4),
		NumBuyers:             Int(12),
		IsPriceLt500:          Bool(true),
	}
	if got := row.Feature("ret_1"); got != 0.02 {
		t.Errorf("ret_1 = %v", got)
	}
	if got := row.Feature("top_buyer_concentration"); got != 0.4 {
		t.Errorf("concentration = %v", got)
	}
	if got := row.Feature("num_buyers"); got != 12 {
		t.Errorf("num_buyers = %v", got)
	}
	if got := row.Feature("is_price_lt_500"); got != 1 {
		t.Errorf("is_price_lt_500 = %v", got)
	}
	// Absent and unknown features default to zero.
	if got := row.Feature("vol_ratio"); got != 0 {
		t.Errorf("absent vol_ratio = %v, want 0", got)
	}
	if got := row.Feature("no_such_feature"); got != 0 {
		t.Errorf("unknown feature = %v, want 0", got)
	}
}
