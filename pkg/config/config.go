// Package config loads server and per-account settings from the
// environment and an optional YAML accounts file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Server holds process-wide settings.
type Server struct {
	DefaultAccount  string     `env:"AWS_DEFAULT_ACCOUNT" envDefault:"default"`
	AccountNames    []string   `env:"AWS_ACCOUNTS" envSeparator:","`
	AccountsFile    string     `env:"AWS_MCP_ACCOUNTS_FILE"`
	EnableAuditLog  bool       `env:"AWS_ENABLE_AUDIT_LOG" envDefault:"true"`
	AuditLogFile    string     `env:"AWS_AUDIT_LOG_FILE"`
	CostLedgerFile  string     `env:"AWS_COST_LEDGER_FILE"`
	AllowedServices []string   `env:"AWS_ALLOWED_SERVICES" envSeparator:","`
	BlockedActions  []string   `env:"AWS_BLOCKED_ACTIONS" envSeparator:","`
	Transport       string     `env:"AWS_MCP_TRANSPORT" envDefault:"stdio"`
	HTTPAddr        string     `env:"AWS_MCP_HTTP_ADDR" envDefault:"localhost:8081"`
	LogLevel        slog.Level `env:"AWS_MCP_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint    string     `env:"AWS_MCP_OTEL_ENDPOINT"`
	OTelEnabled     bool       `env:"AWS_MCP_OTEL_ENABLED" envDefault:"true"`
}

// Settings configures one account. The same struct is read from the YAML
// file and from prefixed environment variables, so fields carry no
// envDefault: unset variables leave earlier layers untouched.
type Settings struct {
	AccessKeyID     string        `env:"ACCESS_KEY_ID" yaml:"access_key_id"`
	SecretAccessKey awsmcp.Secret `env:"SECRET_ACCESS_KEY" yaml:"secret_access_key"`
	SessionToken    awsmcp.Secret `env:"SESSION_TOKEN" yaml:"session_token"`
	RoleARN         string        `env:"ROLE_ARN" yaml:"role_arn"`
	RoleSessionName string        `env:"ROLE_SESSION_NAME" yaml:"role_session_name"`
	ExternalID      string        `env:"EXTERNAL_ID" yaml:"external_id"`
	Profile         string        `env:"PROFILE" yaml:"profile"`

	DefaultRegion  string   `env:"DEFAULT_REGION" yaml:"default_region"`
	TimeoutSeconds int      `env:"TIMEOUT" yaml:"timeout"`
	MaxRetries     int      `env:"MAX_RETRIES" yaml:"max_retries"`
	EnabledRegions []string `env:"ENABLED_REGIONS" envSeparator:"," yaml:"enabled_regions"`
	RegionFailover bool     `env:"REGION_FAILOVER" yaml:"region_failover"`

	TrackCosts          bool     `env:"TRACK_COSTS" yaml:"track_costs"`
	CostAlertThreshold  float64  `env:"COST_ALERT_THRESHOLD" yaml:"cost_alert_threshold"`
	RequireCostApproval bool     `env:"REQUIRE_COST_APPROVAL" yaml:"require_cost_approval"`
	DailyBudgetLimit    *float64 `env:"DAILY_BUDGET_LIMIT" yaml:"daily_budget_limit"`
	CostAllocationTags  []string `env:"COST_ALLOCATION_TAGS" envSeparator:"," yaml:"cost_allocation_tags"`
}

// DefaultSettings returns the built-in account defaults.
func DefaultSettings() Settings {
	return Settings{
		RoleSessionName:    awsmcp.DefaultRoleSessionName,
		DefaultRegion:      "us-east-1",
		TimeoutSeconds:     30,
		MaxRetries:         3,
		EnabledRegions:     []string{"us-east-1", "us-west-2"},
		RegionFailover:     true,
		TrackCosts:         true,
		CostAlertThreshold: 100,
	}
}

// inherit returns a copy of s as the base of a named account. Slices and
// the budget pointer are copied so accounts never share storage.
func (s Settings) inherit() Settings {
	out := s
	out.EnabledRegions = slices.Clone(s.EnabledRegions)
	out.CostAllocationTags = slices.Clone(s.CostAllocationTags)
	if s.DailyBudgetLimit != nil {
		v := *s.DailyBudgetLimit
		out.DailyBudgetLimit = &v
	}
	return out
}

// settleSource drops inherited credentials that would mix with a source
// the account configured itself: its own access key discards the inherited
// secret, session token and profile, and its own profile discards the
// inherited key pair. An inherited role is kept and assumed on top of
// whichever base credentials remain.
func (s *Settings) settleSource(base Settings) {
	ownKey := s.AccessKeyID != base.AccessKeyID
	ownProfile := s.Profile != base.Profile

	switch {
	case ownKey:
		if s.SecretAccessKey == base.SecretAccessKey {
			s.SecretAccessKey = awsmcp.Secret{}
		}
		if s.SessionToken == base.SessionToken {
			s.SessionToken = awsmcp.Secret{}
		}
		if !ownProfile {
			s.Profile = ""
		}
	case ownProfile:
		s.AccessKeyID = ""
		s.SecretAccessKey = awsmcp.Secret{}
		s.SessionToken = awsmcp.Secret{}
	}
}

// Binding converts s into the account binding named name.
func (s Settings) Binding(name string) awsmcp.AccountBinding {
	return awsmcp.AccountBinding{
		Name: name,
		Identity: awsmcp.AccountIdentity{
			Region:          s.DefaultRegion,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			SessionToken:    s.SessionToken,
			RoleARN:         s.RoleARN,
			ExternalID:      s.ExternalID,
			RoleSessionName: s.RoleSessionName,
			Profile:         s.Profile,
			Timeout:         time.Duration(s.TimeoutSeconds) * time.Second,
			MaxRetries:      s.MaxRetries,
		},
		Regions: awsmcp.RegionPolicy{
			Enabled:  slices.Clone(s.EnabledRegions),
			Default:  s.DefaultRegion,
			Failover: s.RegionFailover,
		},
		Cost: awsmcp.CostPolicy{
			TrackCosts:      s.TrackCosts,
			AlertThreshold:  s.CostAlertThreshold,
			RequireApproval: s.RequireCostApproval,
			DailyBudget:     s.DailyBudgetLimit,
			AllocationTags:  slices.Clone(s.CostAllocationTags),
		},
	}
}

// Config is the fully layered configuration.
type Config struct {
	Server

	// Accounts maps account names to their settings.
	Accounts map[string]Settings
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvPrefix is ParseEnv with every variable name prefixed.
func ParseEnvPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnvPrefix returns the variable prefix of an account: AWS_ for the default
// account, AWS_<NAME>_ for the others.
func EnvPrefix(name string, isDefault bool) string {
	if isDefault {
		return "AWS_"
	}
	return "AWS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
}

// Load reads the environment and, when AWS_MCP_ACCOUNTS_FILE is set, the
// accounts file. Precedence is defaults, then file, then environment.
func Load() (*Config, error) {
	var srv Server
	if err := ParseEnv(&srv); err != nil {
		return nil, err
	}

	var file *File
	if srv.AccountsFile != "" {
		f, err := ReadFile(srv.AccountsFile)
		if err != nil {
			return nil, err
		}
		file = f
	}
	return build(srv, file)
}

func build(srv Server, file *File) (*Config, error) {
	if srv.DefaultAccount == "" {
		return nil, errors.New("AWS_DEFAULT_ACCOUNT must not be empty")
	}

	cfg := &Config{Server: srv, Accounts: make(map[string]Settings)}

	base := DefaultSettings()
	if file != nil {
		if err := file.apply(srv.DefaultAccount, &base); err != nil {
			return nil, err
		}
	}
	if err := ParseEnvPrefix(&base, EnvPrefix(srv.DefaultAccount, true)); err != nil {
		return nil, fmt.Errorf("account %s: %w", srv.DefaultAccount, err)
	}
	cfg.Accounts[srv.DefaultAccount] = base

	names := slices.Clone(srv.AccountNames)
	if file != nil {
		names = append(names, file.names()...)
	}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || name == srv.DefaultAccount {
			continue
		}
		if _, done := cfg.Accounts[name]; done {
			continue
		}

		s := base.inherit()
		if file != nil {
			if err := file.apply(name, &s); err != nil {
				return nil, err
			}
		}
		if err := ParseEnvPrefix(&s, EnvPrefix(name, false)); err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		s.settleSource(base)
		cfg.Accounts[name] = s
	}
	return cfg, nil
}

// Names returns the configured account names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bindings returns one binding per configured account, sorted by name.
func (c *Config) Bindings() []awsmcp.AccountBinding {
	bindings := make([]awsmcp.AccountBinding, 0, len(c.Accounts))
	for _, name := range c.Names() {
		bindings = append(bindings, c.Accounts[name].Binding(name))
	}
	return bindings
}

// AccessPolicy returns the tool access policy.
func (c *Config) AccessPolicy() awsmcp.AccessPolicy {
	return awsmcp.AccessPolicy{
		AllowedServices: trimAll(c.AllowedServices),
		BlockedActions:  trimAll(c.BlockedActions),
	}
}

// Validate fails fast on configuration the server cannot start with. Named
// accounts are checked for region and cost policy only; their identities
// are checked when they are first used.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unsupported transport %q: use %s or %s", c.Transport, TransportStdio, TransportHTTP)
	}
	if c.Transport == TransportHTTP && c.HTTPAddr == "" {
		return errors.New("AWS_MCP_HTTP_ADDR is required for the http transport")
	}

	def, ok := c.Accounts[c.DefaultAccount]
	if !ok {
		return fmt.Errorf("default account %q is not configured", c.DefaultAccount)
	}
	if err := def.Binding(c.DefaultAccount).Validate(); err != nil {
		return fmt.Errorf("default account %s: %w", c.DefaultAccount, err)
	}

	for _, name := range c.Names() {
		b := c.Accounts[name].Binding(name)
		if err := b.Regions.Validate(); err != nil {
			return fmt.Errorf("account %s: regions: %w", name, err)
		}
		if err := b.Cost.Validate(); err != nil {
			return fmt.Errorf("account %s: cost: %w", name, err)
		}
	}
	return nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
