// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Portal() PortalConfig
	Timings() TimingsConfig
	Credentials() CredentialsConfig
	Probes() ProbesConfig
	Output() OutputConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDebug(bool)

	// Credential Setters
	SetCredentials(username, password string)

	// Output Setters
	SetOutputResultsPath(string)
	SetOutputReportPath(string)
	SetOutputTracePath(string)

	// Probe Setters
	SetProbesEnabled(bool)

	// Portal Setters
	SetPortalWidgetCheck(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	NetworkCfg     NetworkConfig     `mapstructure:"network" yaml:"network"`
	PortalCfg      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	TimingsCfg     TimingsConfig     `mapstructure:"timings" yaml:"timings"`
	CredentialsCfg CredentialsConfig `mapstructure:"credentials" yaml:"-"`
	ProbesCfg      ProbesConfig      `mapstructure:"probes" yaml:"probes"`
	OutputCfg      OutputConfig      `mapstructure:"output" yaml:"output"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig         { return c.NetworkCfg }
func (c *Config) Portal() PortalConfig           { return c.PortalCfg }
func (c *Config) Timings() TimingsConfig         { return c.TimingsCfg }
func (c *Config) Credentials() CredentialsConfig { return c.CredentialsCfg }
func (c *Config) Probes() ProbesConfig           { return c.ProbesCfg }
func (c *Config) Output() OutputConfig           { return c.OutputCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDebug(b bool)    { c.BrowserCfg.Debug = b }

func (c *Config) SetCredentials(username, password string) {
	c.CredentialsCfg.Username = username
	c.CredentialsCfg.Password = password
}

func (c *Config) SetOutputResultsPath(p string) { c.OutputCfg.ResultsPath = p }
func (c *Config) SetOutputReportPath(p string)  { c.OutputCfg.ReportPath = p }
func (c *Config) SetOutputTracePath(p string)   { c.OutputCfg.TracePath = p }
func (c *Config) SetProbesEnabled(b bool)       { c.ProbesCfg.Enabled = b }
func (c *Config) SetPortalWidgetCheck(b bool)   { c.PortalCfg.WidgetCheck = b }

type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes the controlled Chrome instance and the persona it presents.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Platform        string         `mapstructure:"platform" yaml:"platform"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
	Timezone        string         `mapstructure:"timezone" yaml:"timezone"`
	AcceptLanguage  string         `mapstructure:"accept_language" yaml:"accept_language"`
}

type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	AccountsTimeout   time.Duration     `mapstructure:"accounts_timeout" yaml:"accounts_timeout"`
	IdleQuietPeriod   time.Duration     `mapstructure:"idle_quiet_period" yaml:"idle_quiet_period"`
	IdleTimeout       time.Duration     `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ActionTimeout     time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// PortalConfig holds the target endpoints, markers, and selector overrides.
type PortalConfig struct {
	HomeURL          string              `mapstructure:"home_url" yaml:"home_url"`
	LoginURL         string              `mapstructure:"login_url" yaml:"login_url"`
	AccountsPageURL  string              `mapstructure:"accounts_page_url" yaml:"accounts_page_url"`
	AccountsAPIURL   string              `mapstructure:"accounts_api_url" yaml:"accounts_api_url"`
	WidgetURL        string              `mapstructure:"widget_url" yaml:"widget_url"`
	WidgetCheck      bool                `mapstructure:"widget_check" yaml:"widget_check"`
	HomeSettle       string              `mapstructure:"home_settle" yaml:"home_settle"`
	LoginSettle      string              `mapstructure:"login_settle" yaml:"login_settle"`
	SubmitSettle     string              `mapstructure:"submit_settle" yaml:"submit_settle"`
	PostLoginMarkers []string            `mapstructure:"post_login_markers" yaml:"post_login_markers"`
	OAuthMarker      string              `mapstructure:"oauth_marker" yaml:"oauth_marker"`
	BearerStorageKey string              `mapstructure:"bearer_storage_key" yaml:"bearer_storage_key"`
	ChallengeMarkers []string            `mapstructure:"challenge_markers" yaml:"challenge_markers"`
	AccountMarkers   []string            `mapstructure:"account_markers" yaml:"account_markers"`
	WidgetMarkers    []string            `mapstructure:"widget_markers" yaml:"widget_markers"`
	Selectors        map[string][]string `mapstructure:"selectors" yaml:"selectors"`
	Diagnostics      bool                `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// TimingsConfig holds the fixed settle intervals used between workflow actions.
type TimingsConfig struct {
	InitialWait         time.Duration `mapstructure:"initial_wait" yaml:"initial_wait"`
	ChallengeSettle     time.Duration `mapstructure:"challenge_settle" yaml:"challenge_settle"`
	ConsentSettle       time.Duration `mapstructure:"consent_settle" yaml:"consent_settle"`
	ChallengeMarkerWait time.Duration `mapstructure:"challenge_marker_wait" yaml:"challenge_marker_wait"`
	ContinueSettle      time.Duration `mapstructure:"continue_settle" yaml:"continue_settle"`
	WidgetWait          time.Duration `mapstructure:"widget_wait" yaml:"widget_wait"`
}

// CredentialsConfig is populated from the environment only. There are no defaults.
type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

type ProbesConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	Endpoints    []string      `mapstructure:"endpoints" yaml:"endpoints"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	Reachability []string      `mapstructure:"reachability" yaml:"reachability"`
}

type OutputConfig struct {
	ResultsPath    string `mapstructure:"results_path" yaml:"results_path"`
	ReportPath     string `mapstructure:"report_path" yaml:"report_path"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir" yaml:"diagnostics_dir"`
	TracePath      string `mapstructure:"trace_path" yaml:"trace_path"`
	RedactSecrets  bool   `mapstructure:"redact_secrets" yaml:"redact_secrets"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "librus-sync")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("browser.platform", "Win32")
	v.SetDefault("browser.locale", "pl-PL")
	v.SetDefault("browser.timezone", "Europe/Warsaw")
	v.SetDefault("browser.accept_language", "pl-PL,pl;q=0.9")

	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.accounts_timeout", "30s")
	v.SetDefault("network.idle_quiet_period", "500ms")
	v.SetDefault("network.idle_timeout", "30s")
	v.SetDefault("network.action_timeout", "15s")

	v.SetDefault("portal.home_url", "https://portal.librus.pl/rodzina")
	v.SetDefault("portal.login_url", "https://portal.librus.pl/konto-librus/login")
	v.SetDefault("portal.accounts_page_url", "https://portal.librus.pl/konto-librus/informacje/dane-uczniow")
	v.SetDefault("portal.accounts_api_url", "https://portal.librus.pl/api/v3/SynergiaAccounts")
	v.SetDefault("portal.widget_url", "https://portal.librus.pl/vendor/widget-librus/index.html?v=1759002805")
	v.SetDefault("portal.widget_check", false)
	v.SetDefault("portal.home_settle", "networkidle")
	v.SetDefault("portal.login_settle", "networkidle")
	v.SetDefault("portal.submit_settle", "networkidle")
	v.SetDefault("portal.post_login_markers", []string{"rodzina", "konto"})
	v.SetDefault("portal.oauth_marker", "oauth2")
	v.SetDefault("portal.bearer_storage_key", "bearer-token")
	v.SetDefault("portal.challenge_markers", []string{"Cloudflare", "Checking your browser"})
	v.SetDefault("portal.account_markers", []string{".student-name", ".uczen-nazwa", "[data-student-name]"})
	v.SetDefault("portal.widget_markers", []string{
		".widget-container", "#widget-librus", ".librus-widget",
		`iframe[src*="librus"]`, `[class*="widget"]`, `[id*="widget"]`,
	})
	v.SetDefault("portal.diagnostics", true)

	v.SetDefault("timings.initial_wait", "3s")
	v.SetDefault("timings.challenge_settle", "3s")
	v.SetDefault("timings.consent_settle", "2s")
	v.SetDefault("timings.challenge_marker_wait", "8s")
	v.SetDefault("timings.continue_settle", "2s")
	v.SetDefault("timings.widget_wait", "3s")

	v.SetDefault("probes.enabled", true)
	v.SetDefault("probes.base_url", "https://api.librus.pl/3.0")
	v.SetDefault("probes.endpoints", []string{"Me", "Timetables", "Messages", "Grades"})
	v.SetDefault("probes.timeout", "15s")
	v.SetDefault("probes.concurrency", 2)
	v.SetDefault("probes.rate_limit", 2.0)
	v.SetDefault("probes.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("probes.reachability", []string{
		"https://api.librus.pl",
		"https://portal.librus.pl",
		"https://portal.librus.pl/konto-librus/login",
	})

	v.SetDefault("output.results_path", "sync-results.json")
	v.SetDefault("output.report_path", "")
	v.SetDefault("output.diagnostics_dir", "diagnostics")
	v.SetDefault("output.trace_path", "")
	v.SetDefault("output.redact_secrets", true)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
// Credentials are bound to their conventional environment variable names.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("credentials.username", "LIBRUS_USERNAME")
	v.BindEnv("credentials.password", "LIBRUS_PASSWORD")
	v.BindEnv("browser.headless", "LIBRUS_BROWSER_HEADLESS", "HEADLESS")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the structural configuration. Credentials are validated
// separately because not every command needs them.
func (c *Config) Validate() error {
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive integers")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	for key, raw := range map[string]string{
		"portal.home_url":         c.PortalCfg.HomeURL,
		"portal.login_url":        c.PortalCfg.LoginURL,
		"portal.accounts_api_url": c.PortalCfg.AccountsAPIURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	for _, s := range []string{c.PortalCfg.HomeSettle, c.PortalCfg.LoginSettle, c.PortalCfg.SubmitSettle} {
		if s != "" && s != "domready" && s != "networkidle" {
			return fmt.Errorf("settle condition %q must be one of domready, networkidle", s)
		}
	}
	if len(c.PortalCfg.PostLoginMarkers) == 0 {
		return fmt.Errorf("portal.post_login_markers must not be empty")
	}
	if c.ProbesCfg.Enabled {
		if c.ProbesCfg.Concurrency <= 0 {
			return fmt.Errorf("probes.concurrency must be a positive integer")
		}
		if c.ProbesCfg.RateLimit <= 0 {
			return fmt.Errorf("probes.rate_limit must be positive")
		}
		if err := validateURL(c.ProbesCfg.BaseURL); err != nil {
			return fmt.Errorf("probes.base_url: %w", err)
		}
	}
	return nil
}

// ErrMissingCredentials is returned when either credential is absent.
var ErrMissingCredentials = errors.New("credentials are required: set LIBRUS_USERNAME and LIBRUS_PASSWORD")

// ValidateCredentials ensures both username and password were supplied.
func (c *Config) ValidateCredentials() error {
	if strings.TrimSpace(c.CredentialsCfg.Username) == "" || c.CredentialsCfg.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
