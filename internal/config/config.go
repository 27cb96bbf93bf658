package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTargetURL is the consulate passport services page.
const DefaultTargetURL = "https://www.exteriores.gob.es/Consulados/montevideo/es/ServiciosConsulares/Paginas/index.aspx?scco=Uruguay&scd=200&scca=Pasaportes+y+otros+documentos&scs=Pasaportes+-+Requisitos+y+procedimiento+para+obtenerlo"

// DefaultNATSURL is used when neither the config file nor NATS_HOST set one.
const DefaultNATSURL = "nats://127.0.0.1:4222"

// DefaultSubject is the subject the booking-check server consumes results from.
const DefaultSubject = "scrapper.result"

// Notifier types.
const (
	NotifierTelegram = "telegram"
	NotifierNATS     = "nats"
)

// Poll expiry policies.
const (
	ExpiryError    = "error"
	ExpiryClassify = "classify"
)

// Duration is a parsed duration setting. Load decodes it from a string
// like "30s" so errors can name the field.
type Duration struct {
	time.Duration
}

// TargetConfig describes the page being probed.
type TargetConfig struct {
	URL string `yaml:"url"`
}

// ProbeConfig holds the timing policy of a probe run.
type ProbeConfig struct {
	NavigationTimeout   Duration `yaml:"navigation_timeout"`
	NavigationRetries   int      `yaml:"navigation_retries"`
	InterstitialTimeout Duration `yaml:"interstitial_timeout"`
	InterstitialPoll    Duration `yaml:"interstitial_poll"`
	PollInterval        Duration `yaml:"poll_interval"`
	MaxPoll             Duration `yaml:"max_poll"`
	PollExpiry          string   `yaml:"poll_expiry"`
	RunTimeout          Duration `yaml:"run_timeout"`
}

// BrowserConfig holds headless browser settings.
type BrowserConfig struct {
	ExecPath     string `yaml:"exec_path"`
	Headless     bool   `yaml:"headless"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
	UserAgent    string `yaml:"user_agent"`
}

// EvidenceConfig holds the screenshot location.
type EvidenceConfig struct {
	Path string `yaml:"path"`
}

// TelegramConfig holds direct message settings.
type TelegramConfig struct {
	Token         string   `yaml:"token"`
	Recipients    []string `yaml:"recipients"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	APIURL        string   `yaml:"api_url"`
}

// NATSConfig holds message bus settings.
type NATSConfig struct {
	URL     string   `yaml:"url"`
	Subject string   `yaml:"subject"`
	Timeout Duration `yaml:"timeout"`
}

// NotifierConfig selects and configures the notification channel.
type NotifierConfig struct {
	Type     string         `yaml:"type"`
	Telegram TelegramConfig `yaml:"telegram"`
	NATS     NATSConfig     `yaml:"nats"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// WatchConfig holds settings for the in-process schedule.
type WatchConfig struct {
	Schedule string `yaml:"schedule"`
}

// Config is the root application configuration.
type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Probe    ProbeConfig    `yaml:"probe"`
	Browser  BrowserConfig  `yaml:"browser"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Notifier NotifierConfig `yaml:"notifier"`
	Log      LogConfig      `yaml:"log"`
	Watch    WatchConfig    `yaml:"watch"`
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads, parses, and validates the config file at path.
// TELEGRAM_BOT_TOKEN and NATS_HOST override the corresponding file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Durations are decoded as strings first so errors can name the offending field.
	type rawProbe struct {
		NavigationTimeout   string `yaml:"navigation_timeout"`
		NavigationRetries   int    `yaml:"navigation_retries"`
		InterstitialTimeout string `yaml:"interstitial_timeout"`
		InterstitialPoll    string `yaml:"interstitial_poll"`
		PollInterval        string `yaml:"poll_interval"`
		MaxPoll             string `yaml:"max_poll"`
		PollExpiry          string `yaml:"poll_expiry"`
		RunTimeout          string `yaml:"run_timeout"`
	}
	type rawNATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
		Timeout string `yaml:"timeout"`
	}
	type rawNotifier struct {
		Type     string         `yaml:"type"`
		Telegram TelegramConfig `yaml:"telegram"`
		NATS     rawNATS        `yaml:"nats"`
	}
	type rawBrowser struct {
		ExecPath     string `yaml:"exec_path"`
		Headless     *bool  `yaml:"headless"`
		WindowWidth  int    `yaml:"window_width"`
		WindowHeight int    `yaml:"window_height"`
		UserAgent    string `yaml:"user_agent"`
	}
	type rawConfig struct {
		Target   TargetConfig   `yaml:"target"`
		Probe    rawProbe       `yaml:"probe"`
		Browser  rawBrowser     `yaml:"browser"`
		Evidence EvidenceConfig `yaml:"evidence"`
		Notifier rawNotifier    `yaml:"notifier"`
		Log      LogConfig      `yaml:"log"`
		Watch    WatchConfig    `yaml:"watch"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &Config{
		Target:   raw.Target,
		Evidence: raw.Evidence,
		Log:      raw.Log,
		Watch:    raw.Watch,
		Browser: BrowserConfig{
			ExecPath:     raw.Browser.ExecPath,
			Headless:     true,
			WindowWidth:  raw.Browser.WindowWidth,
			WindowHeight: raw.Browser.WindowHeight,
			UserAgent:    raw.Browser.UserAgent,
		},
	}

	// Apply defaults.
	if cfg.Target.URL == "" {
		cfg.Target.URL = DefaultTargetURL
	}
	if raw.Browser.Headless != nil {
		cfg.Browser.Headless = *raw.Browser.Headless
	}
	if cfg.Browser.WindowWidth == 0 {
		cfg.Browser.WindowWidth = 1280
	}
	if cfg.Browser.WindowHeight == 0 {
		cfg.Browser.WindowHeight = 1024
	}
	if cfg.Evidence.Path == "" {
		cfg.Evidence.Path = "screenshot.png"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Watch.Schedule == "" {
		cfg.Watch.Schedule = "*/15 * * * *"
	}

	if err := loadProbe(cfg, raw.Probe.NavigationRetries, raw.Probe.PollExpiry, map[string]durationField{
		"navigation_timeout":   {raw.Probe.NavigationTimeout, 90 * time.Second, &cfg.Probe.NavigationTimeout},
		"interstitial_timeout": {raw.Probe.InterstitialTimeout, 10 * time.Second, &cfg.Probe.InterstitialTimeout},
		"interstitial_poll":    {raw.Probe.InterstitialPoll, 200 * time.Millisecond, &cfg.Probe.InterstitialPoll},
		"poll_interval":        {raw.Probe.PollInterval, 500 * time.Millisecond, &cfg.Probe.PollInterval},
		"max_poll":             {raw.Probe.MaxPoll, 60 * time.Second, &cfg.Probe.MaxPoll},
		"run_timeout":          {raw.Probe.RunTimeout, 5 * time.Minute, &cfg.Probe.RunTimeout},
	}); err != nil {
		return nil, err
	}

	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return nil, fmt.Errorf("log: invalid level %q (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	cfg.Notifier.Type = raw.Notifier.Type
	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = NotifierTelegram
	}
	switch cfg.Notifier.Type {
	case NotifierTelegram:
		tg := raw.Notifier.Telegram
		if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
			tg.Token = token
		}
		if strings.TrimSpace(tg.Token) == "" {
			return nil, fmt.Errorf("notifier.telegram: token is required")
		}
		if len(tg.Recipients) == 0 {
			return nil, fmt.Errorf("notifier.telegram: at least one recipient is required")
		}
		for i, r := range tg.Recipients {
			if strings.TrimSpace(r) == "" {
				return nil, fmt.Errorf("notifier.telegram: recipient[%d] is empty", i)
			}
		}
		if tg.RatePerSecond <= 0 {
			tg.RatePerSecond = 1
		}
		cfg.Notifier.Telegram = tg
	case NotifierNATS:
		n := NATSConfig{
			URL:     raw.Notifier.NATS.URL,
			Subject: raw.Notifier.NATS.Subject,
		}
		if host := os.Getenv("NATS_HOST"); host != "" {
			n.URL = host
		}
		if n.URL == "" {
			n.URL = DefaultNATSURL
		}
		if n.Subject == "" {
			n.Subject = DefaultSubject
		}
		if raw.Notifier.NATS.Timeout == "" {
			n.Timeout = Duration{10 * time.Second}
		} else {
			d, err := time.ParseDuration(raw.Notifier.NATS.Timeout)
			if err != nil {
				return nil, fmt.Errorf("notifier.nats: invalid timeout %q: %w", raw.Notifier.NATS.Timeout, err)
			}
			n.Timeout = Duration{d}
		}
		cfg.Notifier.NATS = n
	default:
		return nil, fmt.Errorf("notifier: invalid type %q (must be telegram or nats)", cfg.Notifier.Type)
	}

	return cfg, nil
}

type durationField struct {
	raw string
	def time.Duration
	dst *Duration
}

func loadProbe(cfg *Config, retries int, expiry string, fields map[string]durationField) error {
	for name, f := range fields {
		if f.raw == "" {
			*f.dst = Duration{f.def}
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("probe: invalid %s %q: %w", name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("probe: %s must be positive, got %q", name, f.raw)
		}
		*f.dst = Duration{d}
	}

	if retries < 0 {
		return fmt.Errorf("probe: navigation_retries must not be negative, got %d", retries)
	}
	cfg.Probe.NavigationRetries = retries

	switch expiry {
	case "":
		cfg.Probe.PollExpiry = ExpiryError
	case ExpiryError, ExpiryClassify:
		cfg.Probe.PollExpiry = expiry
	default:
		return fmt.Errorf("probe: invalid poll_expiry %q (must be error or classify)", expiry)
	}
	return nil
}
