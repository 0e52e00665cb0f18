package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "DDC"

// Load reads the parameter file at path (may be empty), applies DDC_*
// environment overrides, validates the node parameters and loads both
// wheel files. Relative wheel paths resolve against the parameter file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}

	params, err := loadParams(v)
	if err != nil {
		return nil, err
	}

	if params.Left, err = loadWheelFile("left", params.LeftConfigFile, baseDir); err != nil {
		return nil, err
	}
	if params.Right, err = loadWheelFile("right", params.RightConfigFile, baseDir); err != nil {
		return nil, err
	}

	cfg := &Config{
		Params: *params,
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		MQTT: MQTTConfig{
			Broker:         v.GetString("mqtt.broker"),
			ClientID:       v.GetString("mqtt.client_id"),
			Username:       v.GetString("mqtt.username"),
			Password:       v.GetString("mqtt.password"),
			TopicPrefix:    v.GetString("mqtt.topic_prefix"),
			QoS:            byte(v.GetUint("mqtt.qos")),
			ConnectTimeout: v.GetDuration("mqtt.connect_timeout"),
		},
		Auth: AuthConfig{
			Enabled:       v.GetBool("auth.enabled"),
			HMACSecret:    v.GetString("auth.hmac_secret"),
			PublicKeyFile: v.GetString("auth.public_key_file"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Audit: AuditConfig{
			Path:       v.GetString("audit.path"),
			MaxSizeMB:  v.GetInt("audit.max_size_mb"),
			MaxBackups: v.GetInt("audit.max_backups"),
			MaxAgeDays: v.GetInt("audit.max_age_days"),
		},
		Telemetry: TelemetryConfig{
			BufferSize:        v.GetInt("telemetry.buffer_size"),
			Retention:         v.GetDuration("telemetry.retention"),
			HeartbeatInterval: v.GetDuration("telemetry.heartbeat_interval"),
		},
	}

	base := DefaultTiming()
	base.SafetyPeriod = v.GetDuration("timing.safety_period")
	base.PowerPeriod = v.GetDuration("timing.power_period")
	base.MotorCallTimeout = v.GetDuration("timing.motor_call_timeout")
	base.CommandQueueSize = v.GetInt("timing.command_queue_size")
	cfg.Timing = TimingFor(&cfg.Params, base)

	if err := ValidateTiming(cfg.Timing); err != nil {
		return nil, fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validateServices(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pub_freq_hz", DefaultPubFreqHz)
	v.SetDefault("watchdog_receive_ms", DefaultWatchdogReceive.Milliseconds())
	v.SetDefault("base_link", DefaultBaseLink)
	v.SetDefault("odom_frame", DefaultOdomFrame)
	v.SetDefault("ref_wheel", DefaultRefWheel.String())
	v.SetDefault("control_mode", DefaultControlMode.String())

	timing := DefaultTiming()
	v.SetDefault("timing.safety_period", timing.SafetyPeriod)
	v.SetDefault("timing.power_period", timing.PowerPeriod)
	v.SetDefault("timing.motor_call_timeout", timing.MotorCallTimeout)
	v.SetDefault("timing.command_queue_size", timing.CommandQueueSize)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 0)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "diffdrive")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.connect_timeout", 5*time.Second)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.public_key_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("audit.path", "")
	v.SetDefault("audit.max_size_mb", 20)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.max_age_days", 30)

	v.SetDefault("telemetry.buffer_size", 50)
	v.SetDefault("telemetry.retention", time.Hour)
	v.SetDefault("telemetry.heartbeat_interval", 15*time.Second)
}

// loadParams validates the node parameters. Only the baseline is fatal;
// everything else falls back to its default with a warning.
func loadParams(v *viper.Viper) (*Params, error) {
	p := &Params{
		BaseLink:        v.GetString("base_link"),
		OdomFrame:       v.GetString("odom_frame"),
		LeftConfigFile:  v.GetString("left_config_file"),
		RightConfigFile: v.GetString("right_config_file"),
	}

	if !v.IsSet("baseline_m") {
		return nil, fmt.Errorf("baseline_m not set: %w", ErrInvalidBaseline)
	}
	p.BaselineM = v.GetFloat64("baseline_m")
	if p.BaselineM <= 0 {
		return nil, fmt.Errorf("baseline_m = %v: %w", p.BaselineM, ErrInvalidBaseline)
	}

	p.PubFreqHz = v.GetFloat64("pub_freq_hz")
	if p.PubFreqHz <= 0 {
		p.warnf("pub_freq_hz = %v is not > 0, using default %v", p.PubFreqHz, DefaultPubFreqHz)
		p.PubFreqHz = DefaultPubFreqHz
	}

	watchdogMs := v.GetInt64("watchdog_receive_ms")
	if watchdogMs <= 0 {
		p.warnf("watchdog_receive_ms = %d is not > 0, using default %d", watchdogMs, DefaultWatchdogReceive.Milliseconds())
		p.WatchdogReceive = DefaultWatchdogReceive
	} else {
		p.WatchdogReceive = time.Duration(watchdogMs) * time.Millisecond
	}

	if p.BaseLink == "" {
		p.BaseLink = DefaultBaseLink
	}
	if p.OdomFrame == "" {
		p.OdomFrame = DefaultOdomFrame
	}

	refWheel := v.GetString("ref_wheel")
	if ref, ok := ParseRefWheel(refWheel); ok {
		p.RefWheel = ref
	} else {
		p.warnf("ref_wheel = %q is not Left or Right, using %s", refWheel, DefaultRefWheel)
		p.RefWheel = DefaultRefWheel
	}

	controlMode := v.GetString("control_mode")
	if mode, ok := ParseControlMode(controlMode); ok {
		p.ControlMode = mode
	} else {
		p.warnf("control_mode = %q is not Twist or LeftRightSpeeds, using %s", controlMode, DefaultControlMode)
		p.ControlMode = DefaultControlMode
	}

	return p, nil
}

func (p *Params) warnf(format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}

func loadWheelFile(wheel, path, baseDir string) (WheelConfig, error) {
	if path == "" {
		return WheelConfig{}, fmt.Errorf("%s_config_file: %w", wheel, ErrMissingWheelConfig)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	w, err := LoadWheel(path)
	if err != nil {
		return WheelConfig{}, fmt.Errorf("%s wheel: %w", wheel, err)
	}
	return w, nil
}

func validateServices(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" && cfg.Auth.PublicKeyFile == "" {
		return errors.New("auth.enabled requires auth.hmac_secret or auth.public_key_file")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	if cfg.Telemetry.BufferSize < 1 {
		return fmt.Errorf("telemetry.buffer_size must be >= 1, got %d", cfg.Telemetry.BufferSize)
	}
	if cfg.Telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("telemetry.heartbeat_interval must be positive, got %v", cfg.Telemetry.HeartbeatInterval)
	}
	return nil
}
