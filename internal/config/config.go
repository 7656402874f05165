// Package config defines process configuration and its loading hooks.
//
// Conventions:
// - Defaults come from New; Load layers a YAML file and environment on top.
// - Zone settings can be overridden per monitor under "monitors.<id>".
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/okian/aidect/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsBasePort plus the monitor id is the metrics responder port.
	MetricsBasePort int `koanf:"metrics_base_port"`

	// WatchdogFrames is the watchdog timeout in target frame intervals.
	WatchdogFrames float64 `koanf:"watchdog_frames"`

	// TriggerTag is the cause reported to the host on trigger.
	TriggerTag string `koanf:"trigger_tag"`

	Host     HostConfig     `koanf:"host"`
	Detector DetectorConfig `koanf:"detector"`

	// Zone applies to every monitor without an entry in Monitors.
	Zone Zone `koanf:"zone"`

	// Monitors holds per-monitor overrides keyed by monitor id.
	Monitors map[string]Zone `koanf:"monitors"`
}

// HostConfig locates the camera host API.
type HostConfig struct {
	URL       string `koanf:"url"`
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
	TimeoutMS int    `koanf:"timeout_ms"`
	// IdleState is the monitor state number the host reports when not recording.
	IdleState int `koanf:"idle_state"`
}

// Timeout returns TimeoutMS as a duration.
func (h HostConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMS) * time.Millisecond
}

// DetectorConfig locates the inference service.
type DetectorConfig struct {
	URL         string `koanf:"url"`
	TimeoutMS   int    `koanf:"timeout_ms"`
	JPEGQuality int    `koanf:"jpeg_quality"`
}

// Timeout returns TimeoutMS as a duration.
func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// Region is the analysis rectangle in full-frame pixels.
type Region struct {
	X      int `koanf:"x"`
	Y      int `koanf:"y"`
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// Zone is the per-monitor analysis configuration.
type Zone struct {
	// Name of a host zone whose bounding box replaces Region.
	Name   string `koanf:"name"`
	Region Region `koanf:"region"`

	// Classes maps detector class ids to display names. Only these classes
	// are reported.
	Classes map[string]string `koanf:"classes"`

	// Threshold is the minimum detector confidence.
	Threshold float64 `koanf:"threshold"`

	// Size is the detector input edge length in pixels.
	Size int `koanf:"size"`

	// MinArea is the minimum bounding box area in pixels.
	MinArea int `koanf:"min_area"`

	// FPS is the target analysis frequency; 0 asks the host.
	FPS float64 `koanf:"fps"`

	// Trigger is an alternate monitor id to raise events on; 0 uses the
	// analysed monitor.
	Trigger int `koanf:"trigger"`
}

// DefaultClasses are reported when no classes are configured.
func DefaultClasses() map[string]string {
	return map[string]string{
		"1":  "Human",
		"3":  "Car",
		"15": "Bird",
		"16": "Cat",
		"17": "Dog",
	}
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		MetricsBasePort: 9000,
		WatchdogFrames:  20,
		TriggerTag:      "aidect",
		Host: HostConfig{
			URL:       "http://localhost/zm",
			TimeoutMS: 10_000,
			IdleState: 1,
		},
		Detector: DetectorConfig{
			URL:         "http://localhost:8000",
			TimeoutMS:   10_000,
			JPEGQuality: 90,
		},
		Zone: Zone{
			Threshold: 0.5,
			Size:      256,
		},
	}
}

// ZoneFor returns the zone for monitorID: the monitor override merged over
// the default zone, with default classes when none are configured.
func (c *Config) ZoneFor(monitorID int) Zone {
	z := c.Zone
	if o, ok := c.Monitors[strconv.Itoa(monitorID)]; ok {
		z = merge(z, o)
	}
	if len(z.Classes) == 0 {
		z.Classes = DefaultClasses()
	}
	return z
}

// merge overlays the non-zero fields of o on base.
func merge(base, o Zone) Zone {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Region != (Region{}) {
		base.Region = o.Region
	}
	if len(o.Classes) > 0 {
		base.Classes = o.Classes
	}
	if o.Threshold != 0 {
		base.Threshold = o.Threshold
	}
	if o.Size != 0 {
		base.Size = o.Size
	}
	if o.MinArea != 0 {
		base.MinArea = o.MinArea
	}
	if o.FPS != 0 {
		base.FPS = o.FPS
	}
	if o.Trigger != 0 {
		base.Trigger = o.Trigger
	}
	return base
}

// ClassMap parses the class ids.
func (z Zone) ClassMap() (map[int]string, error) {
	classes := make(map[int]string, len(z.Classes))
	for k, name := range z.Classes {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: class id %q: %w", ErrInvalidConfig, k, err)
		}
		classes[id] = name
	}
	return classes, nil
}

// Rect converts the configured region.
func (z Zone) Rect() model.Rect {
	return model.Rect{X: z.Region.X, Y: z.Region.Y, Width: z.Region.Width, Height: z.Region.Height}
}

// TriggerID returns the monitor events are raised on.
func (z Zone) TriggerID(monitorID int) int {
	if z.Trigger > 0 {
		return z.Trigger
	}
	return monitorID
}

// ClassNames lists the configured names in class id order, for logging.
func (z Zone) ClassNames() []string {
	classes, err := z.ClassMap()
	if err != nil {
		return nil
	}
	ids := make([]int, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = classes[id]
	}
	return names
}

// Validate checks the process-wide settings.
func (c *Config) Validate() error {
	switch {
	case c.Host.URL == "":
		return fmt.Errorf("%w: host.url must not be empty", ErrInvalidConfig)
	case c.Detector.URL == "":
		return fmt.Errorf("%w: detector.url must not be empty", ErrInvalidConfig)
	case c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100:
		return fmt.Errorf("%w: detector.jpeg_quality %d outside [1,100]", ErrInvalidConfig, c.Detector.JPEGQuality)
	case c.MetricsBasePort <= 0:
		return fmt.Errorf("%w: metrics_base_port must be positive", ErrInvalidConfig)
	case c.WatchdogFrames <= 0:
		return fmt.Errorf("%w: watchdog_frames must be positive", ErrInvalidConfig)
	case c.TriggerTag == "":
		return fmt.Errorf("%w: trigger_tag must not be empty", ErrInvalidConfig)
	}
	if err := c.Zone.Validate(); err != nil {
		return err
	}
	for id, z := range c.Monitors {
		if _, err := strconv.Atoi(id); err != nil {
			return fmt.Errorf("%w: monitors key %q is not a monitor id", ErrInvalidConfig, id)
		}
		if err := z.Validate(); err != nil {
			return fmt.Errorf("monitor %s: %w", id, err)
		}
	}
	return nil
}

// Validate checks one zone.
func (z Zone) Validate() error {
	switch {
	case z.Threshold < 0 || z.Threshold > 1:
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidConfig, z.Threshold)
	case z.Size < 0:
		return fmt.Errorf("%w: size must not be negative", ErrInvalidConfig)
	case z.MinArea < 0:
		return fmt.Errorf("%w: min_area must not be negative", ErrInvalidConfig)
	case z.FPS < 0:
		return fmt.Errorf("%w: fps must not be negative", ErrInvalidConfig)
	case z.Trigger < 0:
		return fmt.Errorf("%w: trigger must not be negative", ErrInvalidConfig)
	case z.Region.X < 0 || z.Region.Y < 0 || z.Region.Width < 0 || z.Region.Height < 0:
		return fmt.Errorf("%w: region must not be negative", ErrInvalidConfig)
	}
	_, err := z.ClassMap()
	return err
}
