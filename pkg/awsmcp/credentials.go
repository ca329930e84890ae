package awsmcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"golang.org/x/sync/singleflight"
)

// DefaultRoleSessionName is used when an identity names no role session.
const DefaultRoleSessionName = "mcp-session"

// ConfigLoader builds the base SDK configuration of an identity from its
// static keys or named profile.
type ConfigLoader interface {
	LoadBase(ctx context.Context, id AccountIdentity) (aws.Config, error)
}

// AssumeRoleInput is the token exchange request for one role.
type AssumeRoleInput struct {
	RoleARN     string
	SessionName string
	ExternalID  string
}

// TemporaryCredentials are the short-lived credentials returned by a
// token exchange.
type TemporaryCredentials struct {
	AccessKeyID     string
	SecretAccessKey Secret
	SessionToken    Secret
	Expires         time.Time
}

// RoleAssumer exchanges a base session for role credentials.
type RoleAssumer interface {
	AssumeRole(ctx context.Context, base aws.Config, in AssumeRoleInput) (*TemporaryCredentials, error)
}

// Session is the live, authenticated configuration of one account.
type Session struct {
	// Config is the SDK configuration clients are built from.
	Config aws.Config

	// Source is where Config's credentials come from.
	Source CredentialSource

	// RoleARN is the assumed role, if any.
	RoleARN string

	// Expires is when assumed-role credentials expire. Zero otherwise.
	Expires time.Time

	// ResolvedAt is when the session was built.
	ResolvedAt time.Time
}

// CredentialResolver produces sessions from identities. Sessions are
// memoized per identity until invalidated.
type CredentialResolver struct {
	loader  ConfigLoader
	assumer RoleAssumer
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group
}

// NewCredentialResolver creates a resolver. assumer may be nil when no
// identity uses a role.
func NewCredentialResolver(loader ConfigLoader, assumer RoleAssumer, logger *slog.Logger) *CredentialResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialResolver{
		loader:   loader,
		assumer:  assumer,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Resolve returns the session for id, building it on first use.
func (r *CredentialResolver) Resolve(ctx context.Context, id AccountIdentity) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, &ConfigError{Message: "invalid account identity", Cause: err}
	}

	key := identityKey(id)
	if s := r.cached(key); s != nil {
		return s, nil
	}

	ch := r.group.DoChan(key, shared(func() (any, error) {
		if s := r.cached(key); s != nil {
			return s, nil
		}
		fctx, cancel := detach(ctx, id.Timeout)
		defer cancel()
		s, err := r.resolve(fctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[key] = s
		r.mu.Unlock()
		return s, nil
	}))
	v, err := await(ctx, ch)
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Invalidate drops the memoized session of id.
func (r *CredentialResolver) Invalidate(id AccountIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, identityKey(id))
}

func (r *CredentialResolver) cached(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

func (r *CredentialResolver) resolve(ctx context.Context, id AccountIdentity) (*Session, error) {
	if r.loader == nil {
		return nil, ErrAuthentication("no credential loader configured", baseAuthType(id))
	}

	base, err := r.loader.LoadBase(ctx, id)
	if isInterrupted(err) {
		return nil, ErrService("credential loading interrupted", "sts", "LoadCredentials").
			WithCause(err).
			WithRetryable(true)
	}
	if err != nil {
		return nil, ErrAuthentication("Failed to load credentials: "+ProviderMessage(err), baseAuthType(id)).
			WithCause(err)
	}

	if id.RoleARN == "" {
		return &Session{
			Config:     base,
			Source:     id.Source(),
			ResolvedAt: r.now(),
		}, nil
	}

	if r.assumer == nil {
		return nil, ErrAuthentication("role assumption is not available", "role_assumption").
			WithDetail("role_arn", id.RoleARN)
	}

	name := id.RoleSessionName
	if name == "" {
		name = DefaultRoleSessionName
	}

	creds, err := r.assumer.AssumeRole(ctx, base, AssumeRoleInput{
		RoleARN:     id.RoleARN,
		SessionName: name,
		ExternalID:  id.ExternalID,
	})
	if isInterrupted(err) {
		return nil, ErrService("role assumption interrupted", "sts", "AssumeRole").
			WithCause(err).
			WithRetryable(true).
			WithDetail("role_arn", id.RoleARN)
	}
	if err != nil {
		r.logger.Warn("role assumption failed", "role_arn", id.RoleARN, "error", err)
		return nil, ErrAuthentication("Failed to assume role: "+ProviderMessage(err), "role_assumption").
			WithCause(err).
			WithDetail("role_arn", id.RoleARN)
	}

	// Only the temporary credentials are carried forward.
	cfg := base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey.Reveal(), creds.SessionToken.Reveal(),
	))

	r.logger.Debug("assumed role", "role_arn", id.RoleARN, "session_name", name, "expires", creds.Expires)

	return &Session{
		Config:     cfg,
		Source:     SourceAssumedRole,
		RoleARN:    id.RoleARN,
		Expires:    creds.Expires,
		ResolvedAt: r.now(),
	}, nil
}

// isInterrupted reports whether err is a cancellation or timeout rather
// than a rejected credential.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func baseAuthType(id AccountIdentity) string {
	if id.HasStaticKeys() {
		return "static_credentials"
	}
	if id.Profile != "" {
		return "profile"
	}
	return "default_chain"
}

// identityKey fingerprints every field of id, secrets included, without
// keeping the clear values around.
func identityKey(id AccountIdentity) string {
	h := sha256.New()
	for _, f := range []string{
		id.Region, id.AccessKeyID, id.SecretAccessKey.Reveal(), id.SessionToken.Reveal(),
		id.RoleARN, id.ExternalID, id.RoleSessionName, id.Profile,
		id.Timeout.String(), fmt.Sprint(id.MaxRetries),
	} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
