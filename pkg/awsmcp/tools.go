package awsmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolSpec describes a tool to callers and to the dispatcher.
type ToolSpec struct {
	// Name is the unique tool identifier, e.g. "aws_ec2_list_instances".
	Name string

	// Description is shown to protocol clients.
	Description string

	// Service is the AWS service the tool calls, e.g. "ec2". It is the unit
	// of the allowed-services policy.
	Service string

	// Mutating marks tools that change resources. Only mutating tools are
	// cost checked.
	Mutating bool

	// InputSchema is the JSON schema of the tool's arguments.
	InputSchema *jsonschema.Schema
}

// Clients hands out client handles scoped to the invocation's account.
type Clients interface {
	Client(ctx context.Context, service, region string) (any, error)
}

// Request is a validated invocation, ready to execute.
type Request struct {
	// Region targets the operation. Empty means the account's default region.
	Region string

	// CostClass is the resource class priced by the CostGuard. Empty means
	// the operation has no recurring cost estimate.
	CostClass string

	// Tags are the resource tags the operation will apply; they are checked
	// against the account's cost allocation tags.
	Tags map[string]string

	// Exec performs the operation through clients.
	Exec func(ctx context.Context, clients Clients, region string) (any, error)
}

// Tool is one named operation. Prepare validates arguments without any
// network or credential work.
type Tool interface {
	Spec() ToolSpec
	Prepare(args json.RawMessage) (*Request, error)
}

// ToolRegistry maps tool names to tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("tool without a name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister is like Register but panics on error.
func (r *ToolRegistry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the specs of all tools, sorted by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

type estimateKey struct{}

// ContextWithEstimate attaches the cost estimate of the running invocation.
func ContextWithEstimate(ctx context.Context, est Estimate) context.Context {
	return context.WithValue(ctx, estimateKey{}, est)
}

// EstimateFromContext returns the cost estimate attached by the dispatcher.
func EstimateFromContext(ctx context.Context) (Estimate, bool) {
	est, ok := ctx.Value(estimateKey{}).(Estimate)
	return est, ok
}
