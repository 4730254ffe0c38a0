package telemetry

import "testing"

func TestCalibration_Percent(t *testing.T) {
	tests := []struct {
		raw  int
		want float64
	}{
		{620, 0},
		{284, 100},
		{452, 50},
		{700, 0},   // far drier than the bound: clamped, bound unchanged
		{100, 100}, // far wetter than the bound: clamped, bound unchanged
		{500, 35},
	}
	for _, tt := range tests {
		c := NewCalibration(620, 284)
		if got := c.Percent(tt.raw); got != tt.want {
			t.Errorf("Percent(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCalibration_BoundsDrift(t *testing.T) {
	c := NewCalibration(620, 284)

	if got := c.Percent(640); got != 0 {
		t.Errorf("reading just past dry should read 0%%, got %v", got)
	}
	if dry, _ := c.Bounds(); dry != 640 {
		t.Errorf("dry bound should drift to 640, got %d", dry)
	}

	if got := c.Percent(275); got != 100 {
		t.Errorf("reading just past wet should read 100%%, got %v", got)
	}
	if _, wet := c.Bounds(); wet != 275 {
		t.Errorf("wet bound should drift to 275, got %d", wet)
	}

	c.Percent(900)
	if dry, _ := c.Bounds(); dry != 640 {
		t.Errorf("outlier must not move the dry bound, got %d", dry)
	}
}

func TestCalibration_DegenerateBounds(t *testing.T) {
	c := NewCalibration(400, 400)
	if got := c.Percent(400); got != 0 {
		t.Errorf("expected 0 for equal bounds, got %v", got)
	}
}
