package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		tol      float64
	}{
		{
			name:     "identical points",
			a:        Point{Lat: 37.7749, Lon: -122.4194},
			b:        Point{Lat: 37.7749, Lon: -122.4194},
			expected: 0,
			tol:      1e-9,
		},
		{
			name:     "one degree of longitude at the equator",
			a:        Point{Lat: 0, Lon: 0},
			b:        Point{Lat: 0, Lon: 1},
			expected: 111194.93,
			tol:      0.5,
		},
		{
			name:     "san francisco block pair",
			a:        Point{Lat: 37.7749, Lon: -122.4194},
			b:        Point{Lat: 37.7849, Lon: -122.4094},
			expected: 1417.33,
			tol:      0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DistanceMeters(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(d-tt.expected) > tt.tol {
				t.Errorf("expected %v +- %v, got %v", tt.expected, tt.tol, d)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Point{Lat: 40.4168, Lon: -3.7038}
	b := Point{Lat: 48.8566, Lon: 2.3522}
	ab, err := DistanceMeters(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := DistanceMeters(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(ab-ba) > 1e-6 {
		t.Errorf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestDistanceInvalidCoordinates(t *testing.T) {
	valid := Point{Lat: 0, Lon: 0}
	tests := []struct {
		name string
		p    Point
	}{
		{"latitude above range", Point{Lat: 90.0001, Lon: 0}},
		{"latitude below range", Point{Lat: -91, Lon: 0}},
		{"longitude above range", Point{Lat: 0, Lon: 180.5}},
		{"longitude below range", Point{Lat: 0, Lon: -181}},
		{"nan latitude", Point{Lat: math.NaN(), Lon: 0}},
		{"infinite longitude", Point{Lat: 0, Lon: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DistanceMeters(tt.p, valid); !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected ErrInvalidCoordinate, got %v", err)
			}
			if _, err := DistanceMeters(valid, tt.p); !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected ErrInvalidCoordinate for second arg, got %v", err)
			}
		})
	}
}

func TestBearingDeg(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
	}{
		{"due north", Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0}, 0},
		{"due east", Point{Lat: 0, Lon: 0}, Point{Lat: 0, Lon: 1}, 90},
		{"due south", Point{Lat: 1, Lon: 0}, Point{Lat: 0, Lon: 0}, 180},
		{"due west", Point{Lat: 0, Lon: 1}, Point{Lat: 0, Lon: 0}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDeg(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("expected bearing %v, got %v", tt.expected, got)
			}
		})
	}
}
