package awsmcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

const redacted = "[REDACTED]"

// Secret holds a credential value that must never be logged or serialized
// in clear text. The zero value is an absent secret.
type Secret struct {
	value string
}

// NewSecret wraps a clear-text credential.
func NewSecret(v string) Secret {
	return Secret{value: v}
}

// Reveal returns the clear-text value. It is only called while building
// the SDK credentials provider for a session.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is absent.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer with a redacted form.
func (s Secret) String() string {
	if s.IsZero() {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the wrapped value.
func (s Secret) GoString() string {
	return fmt.Sprintf("awsmcp.Secret(%q)", s.String())
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalJSON implements json.Marshaler with a redacted form.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText lets configuration decoders (env, YAML) populate a Secret.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

// AccountIdentity is the declarative credential configuration of one account.
type AccountIdentity struct {
	// Region is the region used for the base session and STS calls.
	Region string `json:"region"`

	// AccessKeyID is the static access key ID.
	AccessKeyID string `json:"access_key_id,omitempty"`

	// SecretAccessKey is the static secret key.
	SecretAccessKey Secret `json:"secret_access_key,omitempty"`

	// SessionToken is an optional token paired with static keys.
	SessionToken Secret `json:"session_token,omitempty"`

	// RoleARN, when set, is assumed through STS on top of the base session.
	RoleARN string `json:"role_arn,omitempty"`

	// ExternalID is passed to AssumeRole when set.
	ExternalID string `json:"external_id,omitempty"`

	// RoleSessionName names the assumed-role session.
	RoleSessionName string `json:"role_session_name,omitempty"`

	// Profile is a named profile from the shared AWS config files.
	Profile string `json:"profile,omitempty"`

	// Timeout bounds connect and read time of every client handle.
	Timeout time.Duration `json:"timeout"`

	// MaxRetries is the max-attempts setting handed to the SDK retryer.
	MaxRetries int `json:"max_retries"`
}

// HasStaticKeys reports whether both halves of a static key pair are set.
func (id AccountIdentity) HasStaticKeys() bool {
	return id.AccessKeyID != "" && !id.SecretAccessKey.IsZero()
}

// Validate rejects identities that cannot produce a session.
func (id AccountIdentity) Validate() error {
	if !id.HasStaticKeys() && id.RoleARN == "" && id.Profile == "" {
		return fmt.Errorf("no credentials configured: need access key and secret, role ARN, or profile")
	}
	if id.AccessKeyID != "" && id.SecretAccessKey.IsZero() {
		return fmt.Errorf("access key ID set without a secret access key")
	}
	if id.AccessKeyID == "" && !id.SecretAccessKey.IsZero() {
		return fmt.Errorf("secret access key set without an access key ID")
	}
	if id.Region == "" {
		return fmt.Errorf("region is required")
	}
	if id.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if id.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// LogValue implements slog.LogValuer. Secret fields are reduced to presence.
func (id AccountIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("region", id.Region),
		slog.String("source", string(id.Source())),
		slog.String("access_key_id", id.AccessKeyID),
		slog.String("role_arn", id.RoleARN),
		slog.String("profile", id.Profile),
		slog.Bool("session_token", !id.SessionToken.IsZero()),
	)
}

// CredentialSource describes where the final session credentials come from.
type CredentialSource string

const (
	SourceStatic      CredentialSource = "static"
	SourceProfile     CredentialSource = "profile"
	SourceAssumedRole CredentialSource = "assumed_role"
	SourceUnknown     CredentialSource = "none"
)

// Source reports the credential source a resolved session will use.
func (id AccountIdentity) Source() CredentialSource {
	switch {
	case id.RoleARN != "":
		return SourceAssumedRole
	case id.HasStaticKeys():
		return SourceStatic
	case id.Profile != "":
		return SourceProfile
	default:
		return SourceUnknown
	}
}

// KnownRegions lists the regions an account may enable.
var KnownRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-north-1",
	"ap-southeast-1", "ap-southeast-2", "ap-northeast-1", "ap-northeast-2", "ap-south-1",
	"sa-east-1", "ca-central-1",
}

// IsKnownRegion reports whether region is in KnownRegions.
func IsKnownRegion(region string) bool {
	return slices.Contains(KnownRegions, region)
}

// RegionPolicy is the region allow-list of one account.
type RegionPolicy struct {
	// Enabled is the set of regions clients may be created in.
	Enabled []string `json:"enabled_regions"`

	// Default is used when an invocation names no region.
	Default string `json:"default_region"`

	// Failover is carried for reporting; no automatic failover is attempted.
	Failover bool `json:"failover"`
}

// Allows reports whether region is enabled.
func (p RegionPolicy) Allows(region string) bool {
	return slices.Contains(p.Enabled, region)
}

// Check fails with RegionNotEnabled when region is not enabled.
func (p RegionPolicy) Check(region string) error {
	if p.Allows(region) {
		return nil
	}
	return ErrRegionNotEnabled(region, p.Enabled)
}

// Validate checks that every enabled region is known and the default is enabled.
func (p RegionPolicy) Validate() error {
	if len(p.Enabled) == 0 {
		return fmt.Errorf("no regions enabled")
	}
	for _, r := range p.Enabled {
		if !IsKnownRegion(r) {
			return fmt.Errorf("invalid region: %s", r)
		}
	}
	if p.Default != "" && !p.Allows(p.Default) {
		return fmt.Errorf("default region %s is not enabled", p.Default)
	}
	return nil
}

// CostPolicy controls estimation and blocking of mutating operations.
type CostPolicy struct {
	// TrackCosts enables estimation, approval checks and the daily ledger.
	TrackCosts bool `json:"track_costs"`

	// AlertThreshold is the monthly estimate above which approval is needed.
	AlertThreshold float64 `json:"alert_threshold"`

	// RequireApproval blocks operations whose estimate exceeds AlertThreshold.
	RequireApproval bool `json:"require_approval"`

	// DailyBudget caps the sum of estimates executed per UTC day. Nil means no cap.
	DailyBudget *float64 `json:"daily_budget,omitempty"`

	// AllocationTags are tag keys cost-tracked create operations must carry.
	AllocationTags []string `json:"allocation_tags,omitempty"`
}

// Validate enforces non-negative limits.
func (p CostPolicy) Validate() error {
	if p.AlertThreshold < 0 {
		return fmt.Errorf("cost alert threshold must not be negative")
	}
	if p.DailyBudget != nil && *p.DailyBudget < 0 {
		return fmt.Errorf("daily budget limit must not be negative")
	}
	return nil
}

// ClientKey identifies one client handle inside an account's registry.
type ClientKey struct {
	Service string
	Region  string
}

func (k ClientKey) String() string {
	return k.Service + ":" + k.Region
}

// AccountBinding is everything configured for one named account.
type AccountBinding struct {
	Name     string          `json:"name"`
	Identity AccountIdentity `json:"identity"`
	Regions  RegionPolicy    `json:"regions"`
	Cost     CostPolicy      `json:"cost"`
}

// Validate checks identity, region policy and cost policy.
func (b AccountBinding) Validate() error {
	if err := b.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := b.Regions.Validate(); err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	if err := b.Cost.Validate(); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	return nil
}
