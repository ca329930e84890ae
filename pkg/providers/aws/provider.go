// Package aws adapts the AWS SDK for Go v2 to the awsmcp credential and
// client ports.
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// Services lists the service names NewClient can build.
var Services = []string{"cloudformation", "dynamodb", "ec2", "iam", "lambda", "s3", "sts"}

// STSClient abstracts the STS operations used for role assumption and
// identity checks.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMClient abstracts the IAM operations used by validators.
type IAMClient interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// LoadConfigFunc loads an SDK configuration. config.LoadDefaultConfig is
// the production implementation.
type LoadConfigFunc func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (awssdk.Config, error)

// Provider implements awsmcp.ConfigLoader, awsmcp.RoleAssumer and
// awsmcp.ClientFactory on top of the SDK.
type Provider struct {
	loadConfig LoadConfigFunc
	newSTS     func(cfg awssdk.Config) STSClient
	logger     *slog.Logger
}

var (
	_ awsmcp.ConfigLoader  = (*Provider)(nil)
	_ awsmcp.RoleAssumer   = (*Provider)(nil)
	_ awsmcp.ClientFactory = (*Provider)(nil)
)

// ProviderOption configures the Provider.
type ProviderOption func(*Provider)

// WithLoadConfig replaces config.LoadDefaultConfig.
func WithLoadConfig(fn LoadConfigFunc) ProviderOption {
	return func(p *Provider) {
		p.loadConfig = fn
	}
}

// WithSTSClientFactory sets how STS clients are built for role assumption.
func WithSTSClientFactory(fn func(cfg awssdk.Config) STSClient) ProviderOption {
	return func(p *Provider) {
		p.newSTS = fn
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a new AWS provider.
func New(opts ...ProviderOption) *Provider {
	p := &Provider{
		loadConfig: config.LoadDefaultConfig,
		newSTS: func(cfg awssdk.Config) STSClient {
			return sts.NewFromConfig(cfg)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadBase implements awsmcp.ConfigLoader. Static keys take precedence over
// a named profile; with neither, the SDK default chain is used.
func (p *Provider) LoadBase(ctx context.Context, id awsmcp.AccountIdentity) (awssdk.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(id.Region),
	}

	switch {
	case id.HasStaticKeys():
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			id.AccessKeyID,
			id.SecretAccessKey.Reveal(),
			id.SessionToken.Reveal(),
		)))
	case id.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(id.Profile))
	}

	cfg, err := p.loadConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// AssumeRole implements awsmcp.RoleAssumer using sts:AssumeRole with the
// base session's credentials.
func (p *Provider) AssumeRole(ctx context.Context, base awssdk.Config, in awsmcp.AssumeRoleInput) (*awsmcp.TemporaryCredentials, error) {
	name := sanitizeSessionName(in.SessionName)

	input := &sts.AssumeRoleInput{
		RoleArn:         awssdk.String(in.RoleARN),
		RoleSessionName: awssdk.String(name),
	}
	if in.ExternalID != "" {
		input.ExternalId = awssdk.String(in.ExternalID)
	}

	out, err := p.newSTS(base).AssumeRole(ctx, input)
	if err != nil {
		return nil, err
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("assume role %s: response carried no credentials", in.RoleARN)
	}

	creds := &awsmcp.TemporaryCredentials{
		AccessKeyID:     awssdk.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: awsmcp.NewSecret(awssdk.ToString(out.Credentials.SecretAccessKey)),
		SessionToken:    awsmcp.NewSecret(awssdk.ToString(out.Credentials.SessionToken)),
		Expires:         awssdk.ToTime(out.Credentials.Expiration),
	}

	attrs := []any{"role_arn", in.RoleARN, "session_name", name, "expires", creds.Expires}
	if out.AssumedRoleUser != nil {
		attrs = append(attrs, "assumed_role_arn", awssdk.ToString(out.AssumedRoleUser.Arn))
	}
	p.logger.Debug("sts assume role", attrs...)

	return creds, nil
}

// NewClient implements awsmcp.ClientFactory. The returned handle is the
// service's *Client, configured with the account's timeout and retries.
func (p *Provider) NewClient(ctx context.Context, service string, cfg awssdk.Config, opts awsmcp.ClientOptions) (any, error) {
	cfg = cfg.Copy()
	cfg.RetryMaxAttempts = max(1, opts.MaxRetries)
	if opts.Timeout > 0 {
		cfg.HTTPClient = httpClient(opts.Timeout)
	}

	switch service {
	case "cloudformation":
		return cloudformation.NewFromConfig(cfg), nil
	case "dynamodb":
		return dynamodb.NewFromConfig(cfg), nil
	case "ec2":
		return ec2.NewFromConfig(cfg), nil
	case "iam":
		return iam.NewFromConfig(cfg), nil
	case "lambda":
		return lambda.NewFromConfig(cfg), nil
	case "s3":
		return s3.NewFromConfig(cfg), nil
	case "sts":
		return sts.NewFromConfig(cfg), nil
	}
	return nil, awsmcp.ErrInvalidParameter("service", fmt.Sprintf("unsupported service: %s", service)).
		WithDetail("supported", Services)
}

// httpClient bounds both connect and whole-request time.
func httpClient(timeout time.Duration) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithTimeout(timeout).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = timeout
		})
}

// sanitizeSessionName removes invalid characters from role session name.
// AWS requires session names to match [\w+=,.@-]* and at least 2 characters.
func sanitizeSessionName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '_' || r == '+' || r == '=' || r == ',' || r == '.' || r == '@' || r == '-' {
			result.WriteRune(r)
		}
	}
	sanitized := result.String()
	if len(sanitized) < 2 {
		return awsmcp.DefaultRoleSessionName
	}
	// AWS limits session name to 64 characters
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
