package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cutline/internal/auth"
	"cutline/internal/directive"
	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/logging"
	"cutline/internal/session"
)

// FileName is the config file looked up in a workspace.
const FileName = "cutline.yml"

// Config models cutline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Timeline struct {
		FrameRate     int    `yaml:"frame_rate"`
		OverlapPolicy string `yaml:"overlap_policy"`
		Canvas        struct {
			Width  float64 `yaml:"width"`
			Height float64 `yaml:"height"`
		} `yaml:"canvas"`
	} `yaml:"timeline"`
	History struct {
		Limit int `yaml:"limit"`
	} `yaml:"history"`
	Directives DirectivesConfig `yaml:"directives"`
	Media      struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"media"`
	Assets struct {
		RegistryURL    string `yaml:"registry_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"assets"`
	Journal struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"journal"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Auth struct {
		Disabled          bool   `yaml:"disabled"`
		JWTSecret         string `yaml:"jwt_secret"`
		AllowLegacyHeader bool   `yaml:"allow_legacy_header"`
		DevLogin          bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type DirectivesConfig struct {
	TextTrack                string   `yaml:"text_track"`
	MusicTrack               string   `yaml:"music_track"`
	SFXTrack                 string   `yaml:"sfx_track"`
	TransitionTrack          string   `yaml:"transition_track"`
	DefaultTextSeconds       float64  `yaml:"default_text_seconds"`
	DefaultTransitionSeconds float64  `yaml:"default_transition_seconds"`
	DefaultAudioSeconds      float64  `yaml:"default_audio_seconds"`
	Disabled                 []string `yaml:"disabled"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Methods     []string `yaml:"methods"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Timeline.FrameRate <= 0 || c.Timeline.FrameRate > 240 {
		return fmt.Errorf("config.timeline.frame_rate must be within [1,240]")
	}
	if _, err := engine.ParseOverlapPolicy(c.Timeline.OverlapPolicy); err != nil {
		return fmt.Errorf("config.timeline.overlap_policy: %w", err)
	}
	if c.Timeline.Canvas.Width <= 0 || c.Timeline.Canvas.Height <= 0 {
		return fmt.Errorf("config.timeline.canvas width and height must be > 0")
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("config.history.limit must be > 0")
	}
	d := c.Directives
	for name, v := range map[string]string{
		"text_track": d.TextTrack, "music_track": d.MusicTrack, "sfx_track": d.SFXTrack, "transition_track": d.TransitionTrack,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("config.directives.%s is required", name)
		}
	}
	if d.DefaultTextSeconds <= 0 || d.DefaultTransitionSeconds <= 0 || d.DefaultAudioSeconds <= 0 {
		return fmt.Errorf("config.directives default durations must be > 0")
	}
	for _, kind := range d.Disabled {
		if !domain.DirectiveKind(kind).Valid() {
			return fmt.Errorf("config.directives.disabled has unknown kind %s", kind)
		}
	}
	if c.Media.TimeoutSeconds < 0 || c.Assets.TimeoutSeconds < 0 {
		return fmt.Errorf("collaborator timeouts must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config.logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config.logging.format must be json or text")
	}
	if c.Auth.DevLogin && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config.auth.dev_login requires jwt_secret")
	}
	for roleID, role := range c.RBAC.Roles {
		if strings.TrimSpace(roleID) == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, m := range role.Methods {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("role %s has empty method pattern", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// JournalEnabled defaults to true.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

func (c *Config) MediaTimeout() time.Duration {
	return time.Duration(c.Media.TimeoutSeconds) * time.Second
}

func (c *Config) AssetsTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}

// Policy builds the method policy from rbac.roles.
func (c *Config) Policy() auth.Policy {
	roles := make(map[string][]string, len(c.RBAC.Roles))
	for id, role := range c.RBAC.Roles {
		roles[id] = role.Methods
	}
	return auth.NewPolicy(roles)
}

// Session returns the settings every new session is built from.
func (c *Config) Session() session.Config {
	policy, _ := engine.ParseOverlapPolicy(c.Timeline.OverlapPolicy)
	d := c.Directives
	cfg := session.Config{
		FrameRate:     c.Timeline.FrameRate,
		OverlapPolicy: policy,
		HistoryLimit:  c.History.Limit,
		Directives: directive.Settings{
			TextTrack:                d.TextTrack,
			MusicTrack:               d.MusicTrack,
			SFXTrack:                 d.SFXTrack,
			TransitionTrack:          d.TransitionTrack,
			DefaultTextSeconds:       d.DefaultTextSeconds,
			DefaultTransitionSeconds: d.DefaultTransitionSeconds,
			DefaultAudioSeconds:      d.DefaultAudioSeconds,
			CanvasWidth:              c.Timeline.Canvas.Width,
			CanvasHeight:             c.Timeline.Canvas.Height,
		},
	}
	if len(d.Disabled) > 0 {
		cfg.Handlers = map[domain.DirectiveKind]directive.Handler{}
		for _, kind := range d.Disabled {
			cfg.Handlers[domain.DirectiveKind(kind)] = nil
		}
	}
	return cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cutline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the effective config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8710
  base_path: /v0

timeline:
  frame_rate: 30
  # cascade settles chain reactions; shallow resolves a single pass
  overlap_policy: cascade
  canvas:
    width: 1920
    height: 1080

history:
  limit: 100

directives:
  text_track: Text Overlays
  music_track: Music
  sfx_track: Sound Effects
  transition_track: Transitions
  default_text_seconds: 3
  default_transition_seconds: 1
  default_audio_seconds: 10
  disabled: []

media:
  base_url: ""
  timeout_seconds: 10

assets:
  registry_url: ""
  timeout_seconds: 10

journal:
  enabled: true

logging:
  level: info
  format: text

auth:
  disabled: true
  jwt_secret: ""
  allow_legacy_header: true
  dev_login: false

rbac:
  roles: {}

webhooks: []
`
