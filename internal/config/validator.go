package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := validateMQTT(cfg); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Source == "" {
		c.Source = "v4l2"
	}
	switch c.Source {
	case "v4l2":
		if c.Device == "" {
			c.Device = "/dev/video0"
		}
	case "rtsp":
		if c.RTSPURL == "" {
			return fmt.Errorf("rtsp_url is required when source is rtsp")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown source '%s' (must be v4l2, rtsp or mock)", c.Source)
	}

	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("width and height must be > 0")
	}
	if c.FPS == 0 {
		c.FPS = 15
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must be > 0")
	}

	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", c.Rotation)
	}
	return nil
}

func validateDetector(d *DetectorConfig) error {
	if d.CascadePath == "" {
		d.CascadePath = "cascade/facefinder"
	}
	if d.MinSize == 0 {
		d.MinSize = 40
	}
	if d.MaxSize == 0 {
		d.MaxSize = 1000
	}
	if d.MinSize < 0 || d.MaxSize < d.MinSize {
		return fmt.Errorf("need 0 < min_size <= max_size, got %d/%d", d.MinSize, d.MaxSize)
	}
	if d.ShiftFactor == 0 {
		d.ShiftFactor = 0.1
	}
	if d.ScaleFactor == 0 {
		d.ScaleFactor = 1.1
	}
	if d.ScaleFactor <= 1.0 {
		return fmt.Errorf("scale_factor must be > 1.0")
	}
	if d.IoUThreshold == 0 {
		d.IoUThreshold = 0.2
	}
	if d.MinQuality == 0 {
		d.MinQuality = 5.0
	}
	return nil
}

func validateModel(m *ModelConfig) error {
	if m.Path == "" && m.PackagePath == "" {
		return fmt.Errorf("path or package_path is required")
	}
	if m.Dir == "" {
		m.Dir = "models"
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Output == "" {
		m.Output = "probabilities"
	}
	if m.Output != "probabilities" && m.Output != "logits" {
		return fmt.Errorf("output must be probabilities or logits, got '%s'", m.Output)
	}
	if m.ORTLibrary == "" {
		m.ORTLibrary = "libonnxruntime.so"
	}
	return nil
}

func validatePipeline(p *PipelineConfig) error {
	if p.MinIntervalMS < 0 {
		return fmt.Errorf("min_interval_ms must be >= 0")
	}
	if p.MaxFaces == 0 {
		p.MaxFaces = 8
	}
	if p.MaxFaces < 0 {
		return fmt.Errorf("max_faces must be > 0")
	}
	if p.ObserverQueue <= 0 {
		p.ObserverQueue = 4
	}
	if p.StatsIntervalS <= 0 {
		p.StatsIntervalS = 10
	}
	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT

	if m.PayloadFormat == "" {
		m.PayloadFormat = "json"
	}
	if m.PayloadFormat != "json" && m.PayloadFormat != "msgpack" {
		return fmt.Errorf("payload_format must be json or msgpack, got '%s'", m.PayloadFormat)
	}

	// Set default topics if not provided
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("emotion/control/%s", cfg.InstanceID)
	}
	if m.Topics.Results == "" {
		m.Topics.Results = fmt.Sprintf("emotion/results/%s", cfg.InstanceID)
	}
	if m.Topics.Errors == "" {
		m.Topics.Errors = fmt.Sprintf("emotion/errors/%s", cfg.InstanceID)
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("emotion/status/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control": 1,
			"results": 0,
			"errors":  1,
			"status":  0,
		}
	}
	for name, qos := range m.QoS {
		if qos > 2 {
			return fmt.Errorf("qos '%s' must be 0, 1 or 2, got %d", name, qos)
		}
	}
	return nil
}
