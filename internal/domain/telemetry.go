package domain

import (
	"fmt"
	"strconv"
	"time"
)

// TelemetrySnapshot is one immutable set of readings from the edge device.
type TelemetrySnapshot struct {
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	SoilPercent  float64   `json:"soil_percent"`
	SoilRaw      int       `json:"soil_raw"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Summary renders the readings the way they are sent to the chat application.
func (t TelemetrySnapshot) Summary() string {
	return fmt.Sprintf("Temperature: %s°C\nHumidity: %s%%\nSoil Moisture: %s%% (Raw: %d)",
		formatReading(t.TemperatureC),
		formatReading(t.HumidityPct),
		formatReading(t.SoilPercent),
		t.SoilRaw,
	)
}

func formatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PromptRequest is the text and image handed to the chat application for one analysis.
type PromptRequest struct {
	Text      string
	ImagePath string
}

// NewPromptRequest composes the message body from a preamble and the telemetry summary.
func NewPromptRequest(preamble string, snap TelemetrySnapshot, imagePath string) PromptRequest {
	text := snap.Summary()
	if preamble != "" {
		text = preamble + "\n" + text
	}
	return PromptRequest{Text: text, ImagePath: imagePath}
}

// Verdict is the structured payload recovered from the chat reply.
type Verdict map[string]any
