package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete emotion sensor configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig    `yaml:"camera"`
	Detector         DetectorConfig  `yaml:"detector"`
	Model            ModelConfig     `yaml:"model"`
	Detection        DetectionConfig `yaml:"detection"`
	Pipeline         PipelineConfig  `yaml:"pipeline"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Health           HealthConfig    `yaml:"health"`
}

// CameraConfig contains frame source settings
type CameraConfig struct {
	Source   string `yaml:"source"`   // v4l2, rtsp, mock
	Device   string `yaml:"device"`   // v4l2 device node (default: /dev/video0)
	RTSPURL  string `yaml:"rtsp_url"` // required when source is rtsp
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
	Rotation int    `yaml:"rotation"` // 0, 90, 180, 270
}

// DetectorConfig contains pigo cascade parameters
type DetectorConfig struct {
	CascadePath  string  `yaml:"cascade_path"`
	MinSize      int     `yaml:"min_size"`
	MaxSize      int     `yaml:"max_size"`
	ShiftFactor  float64 `yaml:"shift_factor"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	IoUThreshold float64 `yaml:"iou_threshold"`
	MinQuality   float32 `yaml:"min_quality"` // detections below this Q are discarded
}

// ModelConfig contains emotion model settings
type ModelConfig struct {
	Path        string `yaml:"path"`         // explicit model path, skips materialization
	PackagePath string `yaml:"package_path"` // packaged model copied into Dir on first use
	Dir         string `yaml:"dir"`          // local model directory (default: models)
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	Output      string `yaml:"output"`      // probabilities, logits
	ORTLibrary  string `yaml:"ort_library"` // onnxruntime shared library
}

// DetectionConfig contains the initial detection state
type DetectionConfig struct {
	StartActive bool `yaml:"start_active"`
}

// PipelineConfig contains frame processing settings
type PipelineConfig struct {
	MinIntervalMS   int   `yaml:"min_interval_ms"`  // minimum gap between admitted frames (0 = off)
	MaxFaces        int   `yaml:"max_faces"`        // faces processed per frame (default: 8)
	GenerationGuard *bool `yaml:"generation_guard"` // reject results older than the last clear (default: true)
	ObserverQueue   int   `yaml:"observer_queue"`   // per-observer pending snapshots (default: 4)
	StatsIntervalS  int   `yaml:"stats_interval_s"` // stats log period (default: 10)
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker        string          `yaml:"broker"`
	Topics        MQTTTopics      `yaml:"topics"`
	QoS           map[string]byte `yaml:"qos"`
	PayloadFormat string          `yaml:"payload_format"` // json, msgpack
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Results string `yaml:"results"`
	Errors  string `yaml:"errors"`
	Status  string `yaml:"status"`
}

// HealthConfig contains the status HTTP server settings. An empty addr disables it.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// MinInterval returns the classification throttle interval
func (p PipelineConfig) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMS) * time.Millisecond
}

// GuardEnabled reports whether stale per-frame results are rejected after a clear
func (p PipelineConfig) GuardEnabled() bool {
	return p.GenerationGuard == nil || *p.GenerationGuard
}

// StatsInterval returns the stats logging period
func (p PipelineConfig) StatsInterval() time.Duration {
	return time.Duration(p.StatsIntervalS) * time.Second
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
