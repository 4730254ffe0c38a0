// Package telemetry reads sensor data and camera snapshots from the edge device.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gardenbot/internal/domain"
	"gardenbot/internal/metrics"
)

const maxPhotoBytes = 16 << 20

// reading is the edge device's JSON document. Any value can be null when a
// sensor read fails on the device.
type reading struct {
	Temperature struct {
		Value *float64 `json:"value"`
		Unit  string   `json:"unit"`
	} `json:"temperature"`
	Humidity struct {
		Value *float64 `json:"value"`
		Unit  string   `json:"unit"`
	} `json:"humidity"`
	Soil struct {
		Percent *float64 `json:"percent"`
		Raw     *int     `json:"raw"`
	} `json:"soil"`
}

// DeviceSettings mirrors the edge device's /config parameters.
type DeviceSettings struct {
	Strain string `json:"strain"`
	State  string `json:"state"`
	Lights string `json:"lights"`
	Dry    int    `json:"dry"`
	Wet    int    `json:"wet"`
	DHT1   string `json:"dht1"`
}

// Client talks to the edge device's HTTP server.
type Client struct {
	baseURL     string
	http        *http.Client
	calibration *Calibration
	logger      *slog.Logger
}

// ClientConfig holds configuration for the telemetry client.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	Calibration *Calibration // used when the device reports raw soil but no percent
	Logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        newHTTPClient(cfg.Timeout),
		calibration: cfg.Calibration,
		logger:      cfg.Logger,
	}
}

// Snapshot fetches one set of readings.
func (c *Client) Snapshot(ctx context.Context) (domain.TelemetrySnapshot, error) {
	var r reading
	if err := c.getJSON(ctx, "/", &r); err != nil {
		return domain.TelemetrySnapshot{}, unavailable("read sensors", err)
	}
	snap, err := c.toSnapshot(r)
	if err != nil {
		return domain.TelemetrySnapshot{}, unavailable("read sensors", err)
	}
	c.logger.Debug("telemetry read",
		"temperature", snap.TemperatureC, "humidity", snap.HumidityPct,
		"soilPercent", snap.SoilPercent, "soilRaw", snap.SoilRaw)
	return snap, nil
}

func (c *Client) toSnapshot(r reading) (domain.TelemetrySnapshot, error) {
	var missing []string
	if r.Temperature.Value == nil {
		missing = append(missing, "temperature")
	}
	if r.Humidity.Value == nil {
		missing = append(missing, "humidity")
	}
	if r.Soil.Raw == nil {
		missing = append(missing, "soil.raw")
	}
	if r.Soil.Percent == nil && c.calibration == nil {
		missing = append(missing, "soil.percent")
	}
	if len(missing) > 0 {
		return domain.TelemetrySnapshot{}, fmt.Errorf("device returned no value for %s", strings.Join(missing, ", "))
	}

	snap := domain.TelemetrySnapshot{
		TemperatureC: *r.Temperature.Value,
		HumidityPct:  *r.Humidity.Value,
		SoilRaw:      *r.Soil.Raw,
		CapturedAt:   time.Now().UTC(),
	}
	if r.Soil.Percent != nil {
		snap.SoilPercent = *r.Soil.Percent
	} else {
		snap.SoilPercent = c.calibration.Percent(snap.SoilRaw)
	}
	return snap, nil
}

// Photo fetches a JPEG snapshot from the device camera.
func (c *Client) Photo(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, "/photo")
	if err != nil {
		return nil, unavailable("fetch photo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, unavailable("fetch photo", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, unavailable("fetch photo", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, unavailable("fetch photo", fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes))
	}
	if len(data) == 0 {
		return nil, unavailable("fetch photo", errors.New("empty photo"))
	}
	return data, nil
}

// SavePhoto fetches a snapshot and writes it to path, replacing any previous file.
func (c *Client) SavePhoto(ctx context.Context, path string) error {
	data, err := c.Photo(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write photo: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write photo: %w", err)
	}
	c.logger.Debug("photo saved", "path", path, "bytes", len(data))
	return nil
}

// Configure sends settings to the device and returns what it applied. Empty
// string fields and zero bounds are left unchanged on the device.
func (c *Client) Configure(ctx context.Context, s DeviceSettings) (DeviceSettings, error) {
	q := url.Values{}
	for k, v := range map[string]string{"strain": s.Strain, "state": s.State, "lights": s.Lights, "dht1": s.DHT1} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if s.Dry > 0 {
		q.Set("dry", strconv.Itoa(s.Dry))
	}
	if s.Wet > 0 {
		q.Set("wet", strconv.Itoa(s.Wet))
	}

	var applied DeviceSettings
	path := "/config"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.getJSON(ctx, path, &applied); err != nil {
		return DeviceSettings{}, unavailable("configure device", err)
	}
	if c.calibration != nil && applied.Dry > 0 && applied.Wet > 0 {
		c.calibration.Reset(applied.Dry, applied.Wet)
	}
	return applied, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("device URL not configured")
	}
	start := time.Now()
	defer func() { metrics.TelemetryLatency.Observe(time.Since(start).Seconds()) }()

	return doWithRetry(ctx, c.http, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	}, c.logger)
}

func unavailable(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.NewError(domain.KindTelemetryUnavailable, op, err)
}
