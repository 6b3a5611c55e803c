package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath points at an alternate config file.
	EnvConfigPath = "SCREEN_GHOST_CONFIG"
	// EnvLogLevel overrides system.log_level.
	EnvLogLevel = "SCREEN_GHOST_LOG_LEVEL"

	// Loop cadence bounds in milliseconds.
	minIntervalMS = 8
	maxIntervalMS = 1000

	// Detect timeout = interval * headroom, bounded below and above.
	timeoutHeadroom  = 3
	minDetectTimeout = 1500 * time.Millisecond
	maxDetectTimeout = 10 * time.Second
)

// ErrInvalid marks configuration problems that must halt startup.
var ErrInvalid = errors.New("invalid configuration")

// DetectionConfig tunes the worker's face detector. The fields pass
// through to the worker at handshake; the core only validates ranges.
// The json tags are the wire names the worker reads.
type DetectionConfig struct {
	MinFaceSize         int     `mapstructure:"min_face_size" json:"min_face_size"`
	MaxFaceSize         int     `mapstructure:"max_face_size" json:"max_face_size"`
	MinFaceRatio        float64 `mapstructure:"min_face_ratio" json:"min_face_ratio"`
	MaxFaceRatio        float64 `mapstructure:"max_face_ratio" json:"max_face_ratio"`
	ScaleFactor         float64 `mapstructure:"scale_factor" json:"scale_factor"`
	MinNeighbors        int     `mapstructure:"min_neighbors" json:"min_neighbors"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" json:"confidence_threshold"`
	UseGray             bool    `mapstructure:"use_gray" json:"use_gray"`
	ImageScale          float64 `mapstructure:"image_scale" json:"image_scale"`
}

// RecognitionConfig tunes target matching inside the worker.
type RecognitionConfig struct {
	Threshold        float64 `mapstructure:"threshold" json:"threshold"`
	Provider         string  `mapstructure:"provider" json:"provider"`
	OutlierThreshold float64 `mapstructure:"outlier_threshold" json:"outlier_threshold"`
	OutlierIter      int     `mapstructure:"outlier_iter" json:"outlier_iter"`
	TargetsDir       string  `mapstructure:"targets_dir" json:"targets_dir"`
}

type FaceConfig struct {
	Detection   DetectionConfig   `mapstructure:"detection"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
}

// MonitoringConfig drives the capture loop.
type MonitoringConfig struct {
	Interval        int     `mapstructure:"interval"` // milliseconds
	CaptureScale    float64 `mapstructure:"capture_scale"`
	MosaicScale     float64 `mapstructure:"mosaic_scale"`
	MosaicStyle     string  `mapstructure:"mosaic_style"`
	DetectTimeoutMS int     `mapstructure:"detect_timeout_ms"` // 0 = derive from interval
}

// OverlayConfig is the loopback endpoint the renderer attaches to.
type OverlayConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

type SystemConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	// RuntimeDir overrides where the Python runtime lives; empty means
	// the per-user default.
	RuntimeDir string `mapstructure:"runtime_dir"`
	// PauseHotkey toggles masking globally, e.g. "ctrl+alt+m". Empty
	// disables the hook.
	PauseHotkey string `mapstructure:"pause_hotkey"`
}

type Config struct {
	Face       FaceConfig       `mapstructure:"face"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Overlay    OverlayConfig    `mapstructure:"overlay"`
	System     SystemConfig     `mapstructure:"system"`
}

type LoadOptions struct {
	Path             string
	LogLevelOverride string
}

// Load reads config.toml using the default search order.
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadWithOptions loads configuration in priority order:
// 1) .env in the executable directory (environment overrides)
// 2) the explicit path (flag), then SCREEN_GHOST_CONFIG, then the search
//    list: ./config.toml, <exe dir>/config.toml, ../config.toml
// 3) built-in defaults for everything a file does not set.
// A missing file is not an error; an unreadable or unparsable one is.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if envPath := resolveEnvPath(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrInvalid, err)
	}

	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		cfg.System.LogLevel = lvl
	}
	if override := strings.TrimSpace(opts.LogLevelOverride); override != "" {
		cfg.System.LogLevel = override
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Interval returns the loop cadence clamped to [8ms, 1s].
func (c *Config) Interval() time.Duration {
	ms := c.Monitoring.Interval
	if ms < minIntervalMS {
		ms = minIntervalMS
	}
	if ms > maxIntervalMS {
		ms = maxIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

// DetectTimeout returns the per-request worker deadline: an explicit
// override when configured, otherwise the interval with headroom, floored
// and capped.
func (c *Config) DetectTimeout() time.Duration {
	if c.Monitoring.DetectTimeoutMS > 0 {
		return time.Duration(c.Monitoring.DetectTimeoutMS) * time.Millisecond
	}
	derived := c.Interval() * timeoutHeadroom
	if derived < minDetectTimeout {
		derived = minDetectTimeout
	}
	if derived > maxDetectTimeout {
		derived = maxDetectTimeout
	}
	return derived
}

// Validate checks the field ranges the pipeline depends on. All problems
// are reported at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string

	d := c.Face.Detection
	if d.ScaleFactor <= 1.0 {
		problems = append(problems, "face.detection.scale_factor must be greater than 1.0")
	}
	if d.MinNeighbors < 1 {
		problems = append(problems, "face.detection.min_neighbors must be at least 1")
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		problems = append(problems, "face.detection.confidence_threshold must be in [0,1]")
	}
	if d.ImageScale <= 0 || d.ImageScale > 1 {
		problems = append(problems, "face.detection.image_scale must be in (0,1]")
	}
	if d.MinFaceSize < 0 || d.MaxFaceSize < 0 || (d.MaxFaceSize > 0 && d.MinFaceSize > d.MaxFaceSize) {
		problems = append(problems, "face.detection min/max face size out of order")
	}

	r := c.Face.Recognition
	if r.Threshold < 0 || r.Threshold > 1 {
		problems = append(problems, "face.recognition.threshold must be in [0,1]")
	}
	switch strings.ToLower(r.Provider) {
	case "auto", "cuda", "dml", "cpu":
	default:
		problems = append(problems, fmt.Sprintf("face.recognition.provider %q must be one of auto, cuda, dml, cpu", r.Provider))
	}
	if r.OutlierIter < 0 {
		problems = append(problems, "face.recognition.outlier_iter must not be negative")
	}

	m := c.Monitoring
	if m.Interval <= 0 {
		problems = append(problems, "monitoring.interval must be positive")
	}
	if m.CaptureScale <= 0 || m.CaptureScale > 1 {
		problems = append(problems, "monitoring.capture_scale must be in (0,1]")
	}
	if m.MosaicScale <= 0 {
		problems = append(problems, "monitoring.mosaic_scale must be positive")
	}
	if m.DetectTimeoutMS < 0 {
		problems = append(problems, "monitoring.detect_timeout_ms must not be negative")
	}

	if strings.TrimSpace(c.Overlay.Addr) == "" {
		problems = append(problems, "overlay.addr must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("face.detection.min_face_size", 40)
	v.SetDefault("face.detection.max_face_size", 960)
	v.SetDefault("face.detection.min_face_ratio", 0.0)
	v.SetDefault("face.detection.max_face_ratio", 0.0)
	v.SetDefault("face.detection.scale_factor", 1.1)
	v.SetDefault("face.detection.min_neighbors", 5)
	v.SetDefault("face.detection.confidence_threshold", 0.5)
	v.SetDefault("face.detection.use_gray", false)
	v.SetDefault("face.detection.image_scale", 1.0)

	v.SetDefault("face.recognition.threshold", 0.35)
	v.SetDefault("face.recognition.provider", "auto")
	v.SetDefault("face.recognition.outlier_threshold", 0.3)
	v.SetDefault("face.recognition.outlier_iter", 2)
	v.SetDefault("face.recognition.targets_dir", "faces")

	v.SetDefault("monitoring.interval", 200)
	v.SetDefault("monitoring.capture_scale", 1.0)
	v.SetDefault("monitoring.mosaic_scale", 1.2)
	v.SetDefault("monitoring.mosaic_style", "blur")
	v.SetDefault("monitoring.detect_timeout_ms", 0)

	v.SetDefault("overlay.addr", "127.0.0.1:8417")
	v.SetDefault("overlay.mode", "release")

	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.log_file", "")
	v.SetDefault("system.runtime_dir", "")
	v.SetDefault("system.pause_hotkey", "")
}

// resolveEnvPath finds a .env next to the executable, or one named via
// SCREEN_GHOST_CONFIG's sibling variable convention.
func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}
	return ""
}

func findConfigFile() string {
	candidates := []string{"config.toml"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "config.toml"))
	}
	candidates = append(candidates, filepath.Join("..", "config.toml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
