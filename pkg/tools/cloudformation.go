package tools

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// CloudFormationAPI is the subset of the CloudFormation client used by the
// cloudformation tools.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// StackParameter is one stack parameter.
type StackParameter struct {
	ParameterKey   string `json:"ParameterKey" jsonschema:"parameter name"`
	ParameterValue string `json:"ParameterValue" jsonschema:"parameter value"`
}

// CloudFormationCreateStackInput is the input of aws_cloudformation_create_stack.
type CloudFormationCreateStackInput struct {
	StackName    string           `json:"stack_name" jsonschema:"stack name"`
	TemplateBody string           `json:"template_body,omitempty" jsonschema:"template body"`
	TemplateURL  string           `json:"template_url,omitempty" jsonschema:"template URL"`
	Parameters   []StackParameter `json:"parameters,omitempty" jsonschema:"stack parameters"`
	Capabilities []string         `json:"capabilities,omitempty" jsonschema:"required capabilities, e.g. CAPABILITY_IAM"`
	Region       string           `json:"region,omitempty" jsonschema:"AWS region"`
}

// CloudFormationCreateStack creates a stack from an inline or remote
// template. The body wins when both are given.
func CloudFormationCreateStack() awsmcp.Tool {
	return newTool("aws_cloudformation_create_stack", "Create CloudFormation stack", "cloudformation", true,
		func(in CloudFormationCreateStackInput) (*awsmcp.Request, error) {
			if err := required("stack_name", in.StackName); err != nil {
				return nil, err
			}

			input := &cloudformation.CreateStackInput{StackName: aws.String(in.StackName)}
			switch {
			case in.TemplateBody != "":
				input.TemplateBody = aws.String(in.TemplateBody)
			case in.TemplateURL != "":
				input.TemplateURL = aws.String(in.TemplateURL)
			}
			for _, p := range in.Parameters {
				input.Parameters = append(input.Parameters, cfntypes.Parameter{
					ParameterKey:   aws.String(p.ParameterKey),
					ParameterValue: aws.String(p.ParameterValue),
				})
			}
			for _, c := range in.Capabilities {
				input.Capabilities = append(input.Capabilities, cfntypes.Capability(c))
			}

			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[CloudFormationAPI](ctx, clients, "cloudformation", region)
					if err != nil {
						return nil, err
					}
					out, err := api.CreateStack(ctx, input)
					if err != nil {
						return nil, awsmcp.TranslateError("cloudformation", "CreateStack", err)
					}
					return map[string]any{"success": true, "stack_id": aws.ToString(out.StackId)}, nil
				},
			}, nil
		})
}

// CloudFormationDescribeStackInput is the input of aws_cloudformation_describe_stack.
type CloudFormationDescribeStackInput struct {
	StackName string `json:"stack_name" jsonschema:"stack name or ID"`
	Region    string `json:"region,omitempty" jsonschema:"AWS region"`
}

// CloudFormationDescribeStack reports the status and outputs of one stack.
func CloudFormationDescribeStack() awsmcp.Tool {
	return newTool("aws_cloudformation_describe_stack", "Describe CloudFormation stack", "cloudformation", false,
		func(in CloudFormationDescribeStackInput) (*awsmcp.Request, error) {
			if err := required("stack_name", in.StackName); err != nil {
				return nil, err
			}

			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[CloudFormationAPI](ctx, clients, "cloudformation", region)
					if err != nil {
						return nil, err
					}
					out, err := api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(in.StackName)})
					if err != nil {
						return nil, awsmcp.TranslateError("cloudformation", "DescribeStacks", err)
					}
					if len(out.Stacks) == 0 {
						return nil, awsmcp.ErrResourceNotFound("stack", in.StackName)
					}

					s := out.Stacks[0]
					outputs := make([]map[string]any, 0, len(s.Outputs))
					for _, o := range s.Outputs {
						outputs = append(outputs, map[string]any{
							"OutputKey":   aws.ToString(o.OutputKey),
							"OutputValue": aws.ToString(o.OutputValue),
							"Description": aws.ToString(o.Description),
						})
					}
					return map[string]any{
						"stack_name":    aws.ToString(s.StackName),
						"status":        string(s.StackStatus),
						"creation_time": formatTime(s.CreationTime),
						"description":   aws.ToString(s.Description),
						"outputs":       outputs,
					}, nil
				},
			}, nil
		})
}
