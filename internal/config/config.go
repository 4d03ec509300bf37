package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "2s" / "5m" style YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application's configuration. A loaded Config is an
// immutable snapshot: reloads build a new Config and swap it through a
// Store, so in-flight requests always see one consistent version.
type Config struct {
	Version int `yaml:"version"`

	Database struct {
		URL             string   `yaml:"url"`
		MaxOpenConns    int      `yaml:"max_open_conns"`
		MaxIdleConns    int      `yaml:"max_idle_conns"`
		ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Scoring struct {
		// Strategy selects the severity-weight computation: "mean"
		// averages matched rule weights, "max" lets the strongest
		// matched rule dominate.
		Strategy          string   `yaml:"strategy"`
		SentimentFactor   float64  `yaml:"sentiment_factor"`
		ContextFactorStep float64  `yaml:"context_factor_step"`
		ContextFactorCap  float64  `yaml:"context_factor_cap"`
		Timeout           Duration `yaml:"timeout"`
		MaxContentLength  int      `yaml:"max_content_length"`
	} `yaml:"scoring"`

	// Severity bands over the normalized score. Each value is the
	// exclusive upper edge of its tier; anything at or above the
	// critical edge is imminent.
	SeverityBands struct {
		Low      float64 `yaml:"low"`
		Moderate float64 `yaml:"moderate"`
		High     float64 `yaml:"high"`
		Critical float64 `yaml:"critical"`
	} `yaml:"severity_bands"`

	Escalation struct {
		// AutoEscalateSeverity is the minimum severity that creates a
		// case synchronously at detection time.
		AutoEscalateSeverity string   `yaml:"auto_escalate_severity"`
		ReviewSampleRate     float64  `yaml:"review_sample_rate"`
		AssignmentWait       Duration `yaml:"assignment_wait"`
		ReviewSLACritical    Duration `yaml:"review_sla_critical"`
		ReviewSLADefault     Duration `yaml:"review_sla_default"`
		MaxContactAttempts   int      `yaml:"max_contact_attempts"`
		ContactRetryBase     Duration `yaml:"contact_retry_base"`
	} `yaml:"escalation"`

	Pipeline struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"pipeline"`

	Channels struct {
		PushURL  string `yaml:"push_url"`
		SMSURL   string `yaml:"sms_url"`
		EmailURL string `yaml:"email_url"`

		AMQP struct {
			URL      string `yaml:"url"`
			Exchange string `yaml:"exchange"`
		} `yaml:"amqp"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   int64  `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"channels"`

	Analytics struct {
		WindowDays int      `yaml:"window_days"`
		Interval   Duration `yaml:"interval"`
	} `yaml:"analytics"`

	Audit struct {
		Path string `yaml:"path"` // empty means stderr
	} `yaml:"audit"`
}

// LoadConfig reads configuration from the specified YAML file and
// applies defaults for anything the file leaves unset.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = Duration(5 * time.Minute)
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Scoring.Strategy == "" {
		c.Scoring.Strategy = "mean"
	}
	if c.Scoring.SentimentFactor == 0 {
		c.Scoring.SentimentFactor = 0.3
	}
	if c.Scoring.ContextFactorStep == 0 {
		c.Scoring.ContextFactorStep = 0.02
	}
	if c.Scoring.ContextFactorCap == 0 {
		c.Scoring.ContextFactorCap = 0.1
	}
	if c.Scoring.Timeout == 0 {
		c.Scoring.Timeout = Duration(2 * time.Second)
	}
	if c.Scoring.MaxContentLength == 0 {
		c.Scoring.MaxContentLength = 10000
	}
	if c.SeverityBands.Low == 0 {
		c.SeverityBands.Low = 0.3
	}
	if c.SeverityBands.Moderate == 0 {
		c.SeverityBands.Moderate = 0.6
	}
	if c.SeverityBands.High == 0 {
		c.SeverityBands.High = 0.85
	}
	if c.SeverityBands.Critical == 0 {
		c.SeverityBands.Critical = 0.95
	}
	if c.Escalation.AutoEscalateSeverity == "" {
		c.Escalation.AutoEscalateSeverity = "high"
	}
	if c.Escalation.ReviewSampleRate == 0 {
		c.Escalation.ReviewSampleRate = 0.05
	}
	if c.Escalation.AssignmentWait == 0 {
		c.Escalation.AssignmentWait = Duration(30 * time.Second)
	}
	if c.Escalation.ReviewSLACritical == 0 {
		c.Escalation.ReviewSLACritical = Duration(5 * time.Minute)
	}
	if c.Escalation.ReviewSLADefault == 0 {
		c.Escalation.ReviewSLADefault = Duration(30 * time.Minute)
	}
	if c.Escalation.MaxContactAttempts == 0 {
		c.Escalation.MaxContactAttempts = 3
	}
	if c.Escalation.ContactRetryBase == 0 {
		c.Escalation.ContactRetryBase = Duration(time.Minute)
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 8
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Analytics.WindowDays == 0 {
		c.Analytics.WindowDays = 30
	}
	if c.Analytics.Interval == 0 {
		c.Analytics.Interval = Duration(time.Hour)
	}
}

func (c *Config) validate() error {
	if c.Scoring.Strategy != "mean" && c.Scoring.Strategy != "max" {
		return fmt.Errorf("scoring.strategy must be \"mean\" or \"max\", got %q", c.Scoring.Strategy)
	}
	b := c.SeverityBands
	if !(b.Low < b.Moderate && b.Moderate < b.High && b.High < b.Critical && b.Critical <= 1.0) {
		return fmt.Errorf("severity_bands must be strictly increasing and end at or below 1.0")
	}
	if c.Escalation.ReviewSampleRate < 0 || c.Escalation.ReviewSampleRate > 1 {
		return fmt.Errorf("escalation.review_sample_rate must be in [0,1]")
	}
	// An unknown severity ranks below every real tier and would
	// auto-escalate every single detection.
	switch c.Escalation.AutoEscalateSeverity {
	case "low", "moderate", "high", "critical", "imminent":
	default:
		return fmt.Errorf("escalation.auto_escalate_severity must be a severity tier, got %q", c.Escalation.AutoEscalateSeverity)
	}
	return nil
}
