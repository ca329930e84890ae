// Package tools implements the AWS operations exposed through the
// dispatcher, one file per service.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// tool is an awsmcp.Tool whose arguments decode into I.
type tool[I any] struct {
	spec     awsmcp.ToolSpec
	resolved *jsonschema.Resolved
	prepare  func(in I) (*awsmcp.Request, error)
}

// newTool builds a tool whose input schema is inferred from I. It panics if
// I cannot be described by a schema; tools are built at startup.
func newTool[I any](name, description, service string, mutating bool, prepare func(in I) (*awsmcp.Request, error)) *tool[I] {
	schema, err := jsonschema.For[I](nil)
	if err != nil {
		panic(fmt.Sprintf("tool %s: infer schema: %v", name, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("tool %s: resolve schema: %v", name, err))
	}
	return &tool[I]{
		spec: awsmcp.ToolSpec{
			Name:        name,
			Description: description,
			Service:     service,
			Mutating:    mutating,
			InputSchema: schema,
		},
		resolved: resolved,
		prepare:  prepare,
	}
}

func (t *tool[I]) Spec() awsmcp.ToolSpec {
	return t.spec
}

// Prepare validates args against the schema, decodes them and hands them to
// the tool's own checks.
func (t *tool[I]) Prepare(args json.RawMessage) (*awsmcp.Request, error) {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}

	var instance map[string]any
	if err := json.Unmarshal(args, &instance); err != nil {
		return nil, awsmcp.ErrValidation("arguments must be a JSON object").WithCause(err)
	}
	if err := t.resolved.Validate(instance); err != nil {
		return nil, awsmcp.ErrValidation(fmt.Sprintf("invalid arguments: %v", err))
	}

	var in I
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, awsmcp.ErrValidation(fmt.Sprintf("invalid arguments: %v", err)).WithCause(err)
	}
	return t.prepare(in)
}

// All returns every tool.
func All() []awsmcp.Tool {
	return []awsmcp.Tool{
		EC2ListInstances(),
		EC2CreateInstance(),
		EC2StopInstance(),
		EC2StartInstance(),
		S3ListBuckets(),
		S3ListObjects(),
		S3UploadObject(),
		S3PresignedURL(),
		LambdaInvoke(),
		LambdaListFunctions(),
		DynamoDBQuery(),
		CloudFormationCreateStack(),
		CloudFormationDescribeStack(),
	}
}

// Register adds every tool to reg.
func Register(reg *awsmcp.ToolRegistry) error {
	for _, t := range All() {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// clientFor fetches a client from the account's registry and narrows it to
// the API the tool needs.
func clientFor[T any](ctx context.Context, clients awsmcp.Clients, service, region string) (T, error) {
	var api T
	c, err := clients.Client(ctx, service, region)
	if err != nil {
		return api, err
	}
	api, ok := c.(T)
	if !ok {
		return api, awsmcp.ErrService(fmt.Sprintf("unexpected %s client %T", service, c), service, "")
	}
	return api, nil
}

func required(param, value string) error {
	if value == "" {
		return awsmcp.ErrInvalidParameter(param, fmt.Sprintf("%s is required", param))
	}
	return nil
}
