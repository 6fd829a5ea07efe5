package main

import (
	"math"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		arg     string
		name    string
		values  []float64
		wantErr bool
	}{
		{"target_power=1000:3000:3", "target_power", []float64{1000, 2000, 3000}, false},
		{"load_kp=0.5:0.5:1", "load_kp", []float64{0.5}, false},
		{"load_kp", "", nil, true},
		{"=1:2:3", "", nil, true},
		{"load_kp=1:2", "", nil, true},
		{"load_kp=a:2:3", "", nil, true},
		{"load_kp=1:2:0", "", nil, true},
	}

	for _, tt := range tests {
		name, values, err := parseRange(tt.arg)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.arg)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.arg, err)
		}
		if name != tt.name {
			t.Errorf("%s: expected name %s, got %s", tt.arg, tt.name, name)
		}
		if len(values) != len(tt.values) {
			t.Fatalf("%s: expected %d values, got %d", tt.arg, len(tt.values), len(values))
		}
		for i := range values {
			if math.Abs(values[i]-tt.values[i]) > 1e-9 {
				t.Errorf("%s: expected value %d = %f, got %f", tt.arg, i, tt.values[i], values[i])
			}
		}
	}
}

func TestFinite(t *testing.T) {
	got := finite([]float64{math.NaN(), 1, math.Inf(1), 2})
	want := []float64{0, 1, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
