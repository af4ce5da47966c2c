package units

import (
	"errors"
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		scale = 1
	}
	return math.Abs(a-b)/scale <= tol
}

func TestConvertTemperature(t *testing.T) {
	cases := []struct {
		from, to string
		in, want float64
	}{
		{from: "K", to: "degC", in: 293.15, want: 20},
		{from: "°C", to: "K", in: -40, want: 233.15},
		{from: "degC", to: "degF", in: 100, want: 212},
		{from: "degF", to: "degC", in: -40, want: -40},
		{from: "fahrenheit", to: "kelvin", in: 32, want: 273.15},
	}
	for _, tc := range cases {
		got, err := Convert(tc.in, tc.from, tc.to)
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", tc.from, tc.to, err)
		}
		if !approxEqual(got, tc.want, 1e-9) {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestConvertCompositeSpellings(t *testing.T) {
	cases := []struct {
		from, to string
		in, want float64
	}{
		{from: "km/h", to: "m s-1", in: 36, want: 10},
		{from: "m/s", to: "knot", in: 1852.0 / 3600.0, want: 1},
		{from: "hPa", to: "Pa", in: 1013.25, want: 101325},
		{from: "mbar", to: "kPa", in: 1000, want: 100},
		{from: "%", to: "1", in: 55, want: 0.55},
		{from: "in", to: "mm", in: 1, want: 25.4},
		{from: "W m-2", to: "kW/m^2", in: 1500, want: 1.5},
		{from: "MJ m-2", to: "J/m2", in: 2, want: 2e6},
		{from: "degree", to: "rad", in: 180, want: math.Pi},
	}
	for _, tc := range cases {
		got, err := Convert(tc.in, tc.from, tc.to)
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", tc.from, tc.to, err)
		}
		if !approxEqual(got, tc.want, 1e-9) {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestCanonical(t *testing.T) {
	reg := NewRegistry()
	cases := map[string]string{
		"m s-1":   "m/s",
		"m/s":     "m/s",
		"kg m-2":  "kg/m2",
		"%":       "percent",
		"°C":      "degC",
		"W·m-2":   "W/m2",
		"mm h-1":  "mm/h",
		"m**2":    "m2",
		"celsius": "degC",
	}
	for in, want := range cases {
		got, err := reg.Canonical(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestConvertIdentity(t *testing.T) {
	got, err := Convert(12.5, "degC", "degC")
	if err != nil || got != 12.5 {
		t.Fatalf("expected identity, got %v (%v)", got, err)
	}
}

func TestConvertErrors(t *testing.T) {
	_, err := Convert(1, "furlong", "m")
	if !errors.Is(err, ErrUnknownUnit) || !errors.Is(err, ErrUnit) {
		t.Fatalf("expected unknown unit error, got %v", err)
	}

	_, err = Convert(1, "m", "degC")
	if !errors.Is(err, ErrIncompatible) || !errors.Is(err, ErrUnit) {
		t.Fatalf("expected incompatible error, got %v", err)
	}

	_, err = Convert(1, "mm", "kg m-2", "nonexistent")
	if !errors.Is(err, ErrUnknownContext) {
		t.Fatalf("expected unknown context error, got %v", err)
	}
}

func TestPrecipitationContext(t *testing.T) {
	if _, err := Convert(1, "mm", "kg m-2"); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("expected incompatible without context, got %v", err)
	}

	got, err := Convert(1, "mm", "kg m-2", "precipitation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(got, 1, 1e-9) {
		t.Fatalf("expected 1 kg m-2, got %v", got)
	}

	back, err := Convert(12.5, "kg/m2", "mm", "precipitation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(back, 12.5, 1e-9) {
		t.Fatalf("expected 12.5 mm, got %v", back)
	}

	rate, err := Convert(3.6, "mm/h", "kg m-2 s-1", "precipitation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(rate, 0.001, 1e-9) {
		t.Fatalf("expected 0.001 kg m-2 s-1, got %v", rate)
	}
}

func TestRegisterContextAndUnit(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterUnit("furlong", []string{"furlongs"}, 201.168, "m"); err != nil {
		t.Fatalf("register unit: %v", err)
	}
	got, err := reg.Convert(1, "furlong", "m")
	if err != nil || !approxEqual(got, 201.168, 1e-12) {
		t.Fatalf("expected 201.168 m, got %v (%v)", got, err)
	}

	if err := reg.RegisterContext("snow", 100, "kg m-3"); err != nil {
		t.Fatalf("register context: %v", err)
	}
	if !reg.HasContext("snow") {
		t.Fatalf("expected snow context")
	}
	swe, err := reg.Convert(10, "cm", "kg m-2", "snow")
	if err != nil || !approxEqual(swe, 10, 1e-9) {
		t.Fatalf("expected 10 kg m-2, got %v (%v)", swe, err)
	}

	if err := reg.RegisterUnit("bogus", nil, 2, "degC"); err == nil {
		t.Fatalf("expected error deriving from offset unit")
	}
}

func TestConvertRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"K", "degC"},
		{"degC", "degF"},
		{"K", "degF"},
		{"m/s", "km/h"},
		{"knot", "mph"},
		{"hPa", "inHg"},
		{"mmHg", "Pa"},
		{"mm", "in"},
		{"percent", "1"},
		{"degree", "rad"},
		{"W m-2", "MJ m-2 h-1"},
		{"ft", "km"},
	}
	values := []float64{-273.15, -40, -1.5, 0, 0.001, 1, 17.3, 293.15, 1013.25, 98765.4321}

	for _, p := range pairs {
		for _, v := range values {
			there, err := Convert(v, p[0], p[1])
			if err != nil {
				t.Fatalf("%s -> %s: %v", p[0], p[1], err)
			}
			back, err := Convert(there, p[1], p[0])
			if err != nil {
				t.Fatalf("%s -> %s: %v", p[1], p[0], err)
			}
			if !approxEqual(back, v, 1e-6) {
				t.Fatalf("%s <-> %s: %v round-tripped to %v", p[0], p[1], v, back)
			}
		}
	}
}
