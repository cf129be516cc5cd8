package mac

import "testing"

// mockRandomSource returns a fixed value for deterministic testing.
type mockRandomSource struct {
	value float64
}

func (m mockRandomSource) Float64() float64 {
	return m.value
}

func TestBackoffRange(t *testing.T) {
	csma := DefaultCSMAParams()
	calc := NewBackoffCalculator(nil)

	tests := []struct {
		be    uint8
		minMs uint32
		maxMs uint32
	}{
		{3, 0, 7},
		{4, 0, 15},
		{5, 0, 31},
	}
	for _, tc := range tests {
		if got := calc.CalculateMin(csma, tc.be); got != tc.minMs {
			t.Errorf("CalculateMin(be=%d) = %d, want %d", tc.be, got, tc.minMs)
		}
		if got := calc.CalculateMax(csma, tc.be); got != tc.maxMs {
			t.Errorf("CalculateMax(be=%d) = %d, want %d", tc.be, got, tc.maxMs)
		}
		for i := 0; i < 100; i++ {
			d := calc.Calculate(csma, tc.be)
			if d < tc.minMs || d > tc.maxMs {
				t.Fatalf("Calculate(be=%d) = %d, outside [%d, %d]", tc.be, d, tc.minMs, tc.maxMs)
			}
		}
	}
}

func TestBackoffDeterministic(t *testing.T) {
	csma := DefaultCSMAParams()
	csma.BackoffUnitMs = 2

	tests := []struct {
		name   string
		random float64
		be     uint8
		want   uint32
	}{
		{"zero", 0.0, 3, 0},
		{"middle", 0.5, 3, 8},
		{"top never reaches 2^be", 0.9999999, 3, 14},
		{"larger exponent", 0.5, 5, 32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calc := NewBackoffCalculator(mockRandomSource{tc.random})
			if got := calc.Calculate(csma, tc.be); got != tc.want {
				t.Errorf("Calculate() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBackoffMinimum(t *testing.T) {
	csma := DefaultCSMAParams()
	csma.MinimumBackoff = 3
	calc := NewBackoffCalculator(mockRandomSource{0})

	if got := calc.Calculate(csma, 3); got != 3 {
		t.Errorf("Calculate() = %d, want MinimumBackoff 3", got)
	}
	if got := calc.CalculateMin(csma, 3); got != 3 {
		t.Errorf("CalculateMin() = %d, want 3", got)
	}
}

func TestNextExponent(t *testing.T) {
	csma := DefaultCSMAParams()
	be := csma.MinBackoffExponent
	var got []uint8
	for i := 0; i < 4; i++ {
		be = nextExponent(csma, be)
		got = append(got, be)
	}
	want := []uint8{4, 5, 5, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("exponents = %v, want %v", got, want)
		}
	}
}

func TestCSMAValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *CSMAParams)
		wantErr bool
	}{
		{"defaults", func(c *CSMAParams) {}, false},
		{"min above max", func(c *CSMAParams) { c.MinBackoffExponent = 6 }, true},
		{"max too large", func(c *CSMAParams) { c.MaxBackoffExponent = 9 }, true},
		{"no cca attempts", func(c *CSMAParams) { c.CCAAttemptMax = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultCSMAParams()
			tc.modify(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
