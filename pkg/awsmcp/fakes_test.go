package awsmcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

type fakeLoader struct {
	calls atomic.Int32
	err   error

	// started receives one value per call when set.
	started chan struct{}
	// block holds every call until closed or the call's ctx is done.
	block chan struct{}
}

func (l *fakeLoader) LoadBase(ctx context.Context, id AccountIdentity) (aws.Config, error) {
	l.calls.Add(1)
	if l.started != nil {
		select {
		case l.started <- struct{}{}:
		default:
		}
	}
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return aws.Config{}, ctx.Err()
		}
	}
	if l.err != nil {
		return aws.Config{}, l.err
	}
	return aws.Config{
		Region: id.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			id.AccessKeyID, id.SecretAccessKey.Reveal(), id.SessionToken.Reveal()),
	}, nil
}

type fakeAssumer struct {
	calls atomic.Int32
	err   error
	last  AssumeRoleInput
}

func (a *fakeAssumer) AssumeRole(ctx context.Context, base aws.Config, in AssumeRoleInput) (*TemporaryCredentials, error) {
	a.calls.Add(1)
	a.last = in
	if a.err != nil {
		return nil, a.err
	}
	return &TemporaryCredentials{
		AccessKeyID:     "ASIATEMPORARY",
		SecretAccessKey: NewSecret("temp-secret"),
		SessionToken:    NewSecret("temp-token"),
		Expires:         time.Now().Add(time.Hour),
	}, nil
}

type fakeHandle struct {
	service string
	region  string
	opts    ClientOptions
	creds   aws.CredentialsProvider
}

type fakeFactory struct {
	mu      sync.Mutex
	created map[ClientKey]int
	calls   atomic.Int32
	delay   time.Duration
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: make(map[ClientKey]int)}
}

func (f *fakeFactory) NewClient(ctx context.Context, service string, cfg aws.Config, opts ClientOptions) (any, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.created[ClientKey{Service: service, Region: cfg.Region}]++
	f.mu.Unlock()
	return &fakeHandle{service: service, region: cfg.Region, opts: opts, creds: cfg.Credentials}, nil
}

func (f *fakeFactory) count(service, region string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[ClientKey{Service: service, Region: region}]
}

func staticBinding(name string, regions ...string) AccountBinding {
	if len(regions) == 0 {
		regions = []string{"us-east-1", "us-west-2"}
	}
	return AccountBinding{
		Name: name,
		Identity: AccountIdentity{
			Region:          regions[0],
			AccessKeyID:     "AKIA" + name,
			SecretAccessKey: NewSecret("secret-" + name),
			Timeout:         30 * time.Second,
			MaxRetries:      3,
		},
		Regions: RegionPolicy{Enabled: regions, Default: regions[0], Failover: true},
		Cost:    CostPolicy{TrackCosts: true, AlertThreshold: 100},
	}
}

// funcTool is a Tool assembled from closures.
type funcTool struct {
	spec    ToolSpec
	prepare func(json.RawMessage) (*Request, error)
}

func (t funcTool) Spec() ToolSpec { return t.spec }

func (t funcTool) Prepare(args json.RawMessage) (*Request, error) {
	return t.prepare(args)
}

type instanceArgs struct {
	Region       string `json:"region"`
	InstanceType string `json:"instance_type"`
}

// createInstanceTool mimics a cost-tracked create call.
func createInstanceTool(exec func(ctx context.Context, clients Clients, region string) (any, error)) funcTool {
	return funcTool{
		spec: ToolSpec{Name: "aws_ec2_create_instance", Service: "ec2", Mutating: true},
		prepare: func(raw json.RawMessage) (*Request, error) {
			var in instanceArgs
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, err
			}
			if in.InstanceType == "" {
				return nil, ErrInvalidParameter("instance_type", "instance_type is required")
			}
			return &Request{Region: in.Region, CostClass: in.InstanceType, Exec: exec}, nil
		},
	}
}

func listInstancesTool(exec func(ctx context.Context, clients Clients, region string) (any, error)) funcTool {
	return funcTool{
		spec: ToolSpec{Name: "aws_ec2_list_instances", Service: "ec2"},
		prepare: func(raw json.RawMessage) (*Request, error) {
			var in instanceArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, err
				}
			}
			return &Request{Region: in.Region, Exec: exec}, nil
		},
	}
}

var errBoom = errors.New("boom")

func blockingLoader() *fakeLoader {
	return &fakeLoader{started: make(chan struct{}, 1), block: make(chan struct{})}
}
