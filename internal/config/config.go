package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/fedline/internal/source"
)

// Config is the persistent application configuration
type Config struct {
	// Accounts whose home timelines are aggregated
	Accounts []AccountConfig `json:"accounts" yaml:"accounts" validate:"dive"`

	// Engine tunables
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// UI Preferences
	UI UIConfig `json:"ui" yaml:"ui"`

	// Local HTTP adapter
	API APIConfig `json:"api" yaml:"api"`

	DataDir  string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// AccountConfig describes one account on one backend
type AccountConfig struct {
	Platform string `json:"platform" yaml:"platform" validate:"required,oneof=mastodon bluesky feed"`
	Handle   string `json:"handle" yaml:"handle" validate:"required"`
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty" validate:"omitempty,url"` // Mastodon instance or Bluesky PDS
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env,omitempty"` // read the token from this variable
	FeedURL  string `json:"feed_url,omitempty" yaml:"feed_url,omitempty" validate:"omitempty,url"`
}

// EngineConfig holds timeline engine settings
type EngineConfig struct {
	PageSize             int  `json:"page_size" yaml:"page_size" validate:"gte=0,lte=100"`
	FetchTimeoutSecs     int  `json:"fetch_timeout_secs" yaml:"fetch_timeout_secs" validate:"gte=0"`
	MaxConcurrentFetches int  `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches" validate:"gte=0,lte=64"`
	NetworkRetries       int  `json:"network_retries" yaml:"network_retries" validate:"gte=-1,lte=10"` // -1 disables
	PagingThreshold      int  `json:"paging_threshold" yaml:"paging_threshold" validate:"gte=0"`
	AnchorLockMs         int  `json:"anchor_lock_ms" yaml:"anchor_lock_ms" validate:"gte=0,lte=10000"`
	PageBackoffCapSecs   int  `json:"page_backoff_cap_secs" yaml:"page_backoff_cap_secs" validate:"gte=0"`
	RefreshIntervalSecs  int  `json:"refresh_interval_secs" yaml:"refresh_interval_secs" validate:"gte=0"` // 0 = manual only
	AutoMergeAtTop       bool `json:"auto_merge_at_top" yaml:"auto_merge_at_top"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	DensityMode string `json:"density_mode" yaml:"density_mode" validate:"omitempty,oneof=comfortable compact"`
	TimeBands   bool   `json:"time_bands" yaml:"time_bands"`
}

// APIConfig configures the snapshot/trigger HTTP adapter
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Accounts: []AccountConfig{},
		Engine: EngineConfig{
			PageSize:             20,
			FetchTimeoutSecs:     30,
			MaxConcurrentFetches: 5,
			NetworkRetries:       2,
			PagingThreshold:      5,
			AnchorLockMs:         400,
			PageBackoffCapSecs:   30,
			RefreshIntervalSecs:  300, // 5 minutes
			AutoMergeAtTop:       false,
		},
		UI: UIConfig{
			DensityMode: "comfortable",
			TimeBands:   true,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7433",
		},
		LogLevel: "info",
	}
}

// DataDirDefault returns ~/.fedline
func DataDirDefault() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fedline")
}

// ConfigPath returns the path to the config file. FEDLINE_CONFIG overrides
// the default ~/.fedline/config.json.
func ConfigPath() string {
	if p := os.Getenv("FEDLINE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DataDirDefault(), "config.json")
}

// Load reads config from path, or returns defaults when the file does not
// exist. YAML is used for .yaml/.yml files, JSON otherwise. Tokens missing
// from the file are filled from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}

	cfg.AutoPopulateFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes config to path in the format its extension names
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for tokens
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// TokenEnvName is the default variable holding an account's token:
// FEDLINE_TOKEN_ followed by the handle upper-cased with every other
// character replaced by '_'.
func TokenEnvName(handle string) string {
	var b strings.Builder
	b.WriteString("FEDLINE_TOKEN_")
	for _, r := range strings.TrimPrefix(handle, "@") {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// AutoPopulateFromEnv fills in account tokens from environment variables
func (c *Config) AutoPopulateFromEnv() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Token != "" || a.Platform == string(source.PlatformFeed) {
			continue
		}
		name := a.TokenEnv
		if name == "" {
			name = TokenEnvName(a.Handle)
		}
		if tok := os.Getenv(name); tok != "" {
			a.Token = tok
		}
	}
	if lvl := os.Getenv("FEDLINE_LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names in messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api: listen address required when enabled")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		switch source.Platform(a.Platform) {
		case source.PlatformFeed:
			if a.FeedURL == "" {
				return fmt.Errorf("accounts[%d]: feed account %q needs feed_url", i, a.Handle)
			}
		case source.PlatformMastodon:
			if a.Instance == "" {
				return fmt.Errorf("accounts[%d]: mastodon account %q needs instance", i, a.Handle)
			}
		}
		key := a.Platform + "/" + a.Handle
		if seen[key] {
			return fmt.Errorf("accounts[%d]: duplicate account %s", i, key)
		}
		seen[key] = true
	}
	return nil
}

// SourceAccounts converts the configured accounts.
func (c *Config) SourceAccounts() []source.Account {
	out := make([]source.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, source.Account{
			Platform: source.Platform(a.Platform),
			Handle:   a.Handle,
			BaseURL:  a.Instance,
			FeedURL:  a.FeedURL,
		})
	}
	return out
}

// Credentials returns the configured tokens keyed by account.
func (c *Config) Credentials() source.StaticCredentials {
	creds := make(source.StaticCredentials, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Token != "" {
			creds[a.Platform+"/"+a.Handle] = a.Token
		}
	}
	return creds
}

// SessionKey identifies the set of configured accounts. It survives
// restarts so the reading position can be restored, and changes when the
// account set changes.
func (c *Config) SessionKey() string {
	keys := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		keys = append(keys, a.Platform+"/"+a.Handle)
	}
	sort.Strings(keys)
	h := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(h[:8])
}

// Dir returns the data directory, defaulting to ~/.fedline.
func (c *Config) Dir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DataDirDefault()
}

// FetchTimeout is the per-account fetch budget.
func (e EngineConfig) FetchTimeout() time.Duration {
	return time.Duration(e.FetchTimeoutSecs) * time.Second
}

// AnchorLock is how long anchor reports are ignored after a restore.
func (e EngineConfig) AnchorLock() time.Duration {
	return time.Duration(e.AnchorLockMs) * time.Millisecond
}

// PageBackoffCap bounds the pagination failure backoff.
func (e EngineConfig) PageBackoffCap() time.Duration {
	return time.Duration(e.PageBackoffCapSecs) * time.Second
}

// RefreshInterval is the auto-refresh period; zero disables it.
func (e EngineConfig) RefreshInterval() time.Duration {
	return time.Duration(e.RefreshIntervalSecs) * time.Second
}
