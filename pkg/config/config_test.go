package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envTestConfig struct {
	Port int `env:"AWS_MCP_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, 123, cfg.Port)
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("AWS_MCP_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "AWS_", EnvPrefix("default", true))
	assert.Equal(t, "AWS_PROD_", EnvPrefix("prod", false))
	assert.Equal(t, "AWS_DATA_LAKE_", EnvPrefix("data-lake", false))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIADEFAULT")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.DefaultAccount)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.EnableAuditLog)

	s := cfg.Accounts["default"]
	assert.Equal(t, "us-east-1", s.DefaultRegion)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, s.EnabledRegions)
	assert.Equal(t, 30, s.TimeoutSeconds)
	assert.Equal(t, 3, s.MaxRetries)
	assert.True(t, s.TrackCosts)
	assert.InDelta(t, 100.0, s.CostAlertThreshold, 0.001)
	assert.Nil(t, s.DailyBudgetLimit)
	assert.Equal(t, "secret", s.SecretAccessKey.Reveal())

	b := s.Binding("default")
	assert.Equal(t, 30*time.Second, b.Identity.Timeout)
	assert.Equal(t, "us-east-1", b.Regions.Default)
}

func TestLoadNamedAccountsInheritDefaults(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIADEFAULT")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_ENABLED_REGIONS", "us-east-1,eu-west-1")
	t.Setenv("AWS_DAILY_BUDGET_LIMIT", "250")
	t.Setenv("AWS_ACCOUNTS", "prod, data-lake")
	t.Setenv("AWS_PROD_ROLE_ARN", "arn:aws:iam::123456789012:role/mcp")
	t.Setenv("AWS_PROD_EXTERNAL_ID", "ext-1")
	t.Setenv("AWS_DATA_LAKE_PROFILE", "lake")
	t.Setenv("AWS_DATA_LAKE_REQUIRE_COST_APPROVAL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"data-lake", "default", "prod"}, cfg.Names())

	prod := cfg.Accounts["prod"]
	assert.Equal(t, "AKIADEFAULT", prod.AccessKeyID, "role is assumed from the default keys")
	assert.Equal(t, "secret", prod.SecretAccessKey.Reveal())
	assert.Equal(t, "arn:aws:iam::123456789012:role/mcp", prod.RoleARN)
	assert.Equal(t, "ext-1", prod.ExternalID)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, prod.EnabledRegions)
	require.NotNil(t, prod.DailyBudgetLimit)
	assert.InDelta(t, 250.0, *prod.DailyBudgetLimit, 0.001)

	lake := cfg.Accounts["data-lake"]
	assert.Equal(t, "lake", lake.Profile)
	assert.Empty(t, lake.AccessKeyID, "own profile replaces the default keys")
	assert.True(t, lake.SecretAccessKey.IsZero())
	assert.Empty(t, lake.RoleARN)
	assert.True(t, lake.RequireCostApproval)
	assert.False(t, cfg.Accounts["default"].RequireCostApproval)

	bindings := cfg.Bindings()
	require.Len(t, bindings, 3)
	assert.Equal(t, "data-lake", bindings[0].Name)
}

func TestLoadNamedAccountOverridingOnlySettings(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIADEFAULT")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")
	t.Setenv("AWS_ACCOUNTS", "prod")
	t.Setenv("AWS_PROD_TIMEOUT", "10")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	b := cfg.Accounts["prod"].Binding("prod")
	require.NoError(t, b.Validate())
	assert.Equal(t, "AKIADEFAULT", b.Identity.AccessKeyID)
	assert.Equal(t, "token", b.Identity.SessionToken.Reveal())
	assert.Equal(t, 10*time.Second, b.Identity.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Accounts["default"].Binding("default").Identity.Timeout)
}

func TestLoadNamedAccountOwnKeysReplaceInherited(t *testing.T) {
	t.Setenv("AWS_PROFILE", "ops")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIADEFAULT")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")
	t.Setenv("AWS_ACCOUNTS", "prod,audit")
	t.Setenv("AWS_PROD_ACCESS_KEY_ID", "AKIAPROD")
	t.Setenv("AWS_PROD_SECRET_ACCESS_KEY", "prod-secret")
	t.Setenv("AWS_AUDIT_ACCESS_KEY_ID", "AKIAAUDIT")

	cfg, err := Load()
	require.NoError(t, err)

	prod := cfg.Accounts["prod"]
	assert.Equal(t, "AKIAPROD", prod.AccessKeyID)
	assert.Equal(t, "prod-secret", prod.SecretAccessKey.Reveal())
	assert.True(t, prod.SessionToken.IsZero())
	assert.Empty(t, prod.Profile)

	// A key without its own secret never pairs with the default secret.
	audit := cfg.Accounts["audit"].Binding("audit")
	assert.True(t, audit.Identity.SecretAccessKey.IsZero())
	require.Error(t, audit.Validate())
}

func TestLoadAccountsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  default:
    profile: ops
    enabled_regions: [us-east-1, eu-west-1]
    cost_alert_threshold: 40
  staging:
    role_arn: arn:aws:iam::111111111111:role/mcp
    default_region: eu-west-1
    track_costs: false
`), 0o600))

	t.Setenv("AWS_MCP_ACCOUNTS_FILE", path)
	t.Setenv("AWS_COST_ALERT_THRESHOLD", "75")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := cfg.Accounts["default"]
	assert.Equal(t, "ops", def.Profile)
	assert.InDelta(t, 75.0, def.CostAlertThreshold, 0.001, "env wins over file")
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, def.EnabledRegions)

	staging := cfg.Accounts["staging"]
	assert.Equal(t, "ops", staging.Profile, "role is assumed from the default profile")
	assert.Equal(t, "eu-west-1", staging.DefaultRegion)
	assert.False(t, staging.TrackCosts)
	assert.InDelta(t, 75.0, staging.CostAlertThreshold, 0.001)
}

func TestParseFileRejectsUnknownKeys(t *testing.T) {
	f, err := ParseFile([]byte("accounts:\n  default:\n    regoin: us-east-1\n"))
	require.NoError(t, err)

	s := DefaultSettings()
	err = f.apply("default", &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account default")

	_, err = ParseFile([]byte("acounts: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse accounts file")
}

func TestLoadMissingAccountsFile(t *testing.T) {
	t.Setenv("AWS_MCP_ACCOUNTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read accounts file")
}

func TestLoadBadAccountValue(t *testing.T) {
	t.Setenv("AWS_ACCOUNTS", "prod")
	t.Setenv("AWS_PROD_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account prod")
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		s := DefaultSettings()
		s.Profile = "ops"
		return &Config{
			Server:   Server{DefaultAccount: "default", Transport: TransportStdio},
			Accounts: map[string]Settings{"default": s},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "transport",
			mutate:  func(c *Config) { c.Transport = "grpc" },
			wantErr: "unsupported transport",
		},
		{
			name: "http without addr",
			mutate: func(c *Config) {
				c.Transport = TransportHTTP
				c.HTTPAddr = ""
			},
			wantErr: "AWS_MCP_HTTP_ADDR",
		},
		{
			name: "default without credentials",
			mutate: func(c *Config) {
				s := c.Accounts["default"]
				s.Profile = ""
				c.Accounts["default"] = s
			},
			wantErr: "no credentials configured",
		},
		{
			name: "unknown region",
			mutate: func(c *Config) {
				s := c.Accounts["default"]
				s.EnabledRegions = []string{"us-east-1", "mars-north-1"}
				c.Accounts["default"] = s
			},
			wantErr: "invalid region: mars-north-1",
		},
		{
			name: "default region not enabled",
			mutate: func(c *Config) {
				s := c.Accounts["default"]
				s.DefaultRegion = "eu-west-1"
				c.Accounts["default"] = s
			},
			wantErr: "default region eu-west-1 is not enabled",
		},
		{
			name: "named account negative budget",
			mutate: func(c *Config) {
				s := DefaultSettings()
				budget := -1.0
				s.DailyBudgetLimit = &budget
				c.Accounts["prod"] = s
			},
			wantErr: "account prod: cost",
		},
		{
			name: "named account without credentials",
			mutate: func(c *Config) {
				c.Accounts["prod"] = DefaultSettings()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAccessPolicyTrims(t *testing.T) {
	cfg := &Config{Server: Server{
		AllowedServices: []string{" ec2", "s3 ", ""},
		BlockedActions:  []string{"aws_ec2_create_instance"},
	}}
	p := cfg.AccessPolicy()
	assert.Equal(t, []string{"ec2", "s3"}, p.AllowedServices)
	assert.Equal(t, []string{"aws_ec2_create_instance"}, p.BlockedActions)
}
