package tools

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// LambdaAPI is the subset of the Lambda client used by the lambda tools.
type LambdaAPI interface {
	lambda.ListFunctionsAPIClient
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvokeInput is the input of aws_lambda_invoke.
type LambdaInvokeInput struct {
	FunctionName   string         `json:"function_name" jsonschema:"function name or ARN"`
	Payload        map[string]any `json:"payload,omitempty" jsonschema:"function payload"`
	InvocationType string         `json:"invocation_type,omitempty" jsonschema:"RequestResponse (default), Event or DryRun"`
	Region         string         `json:"region,omitempty" jsonschema:"AWS region"`
}

// LambdaInvoke invokes a function and decodes its JSON response.
func LambdaInvoke() awsmcp.Tool {
	return newTool("aws_lambda_invoke", "Invoke Lambda function", "lambda", true,
		func(in LambdaInvokeInput) (*awsmcp.Request, error) {
			if err := required("function_name", in.FunctionName); err != nil {
				return nil, err
			}

			invocationType := lambdatypes.InvocationTypeRequestResponse
			if in.InvocationType != "" {
				invocationType = lambdatypes.InvocationType(in.InvocationType)
			}
			if !slices.Contains(invocationType.Values(), invocationType) {
				return nil, awsmcp.ErrInvalidParameter("invocation_type", "invocation_type must be RequestResponse, Event or DryRun")
			}

			payload := []byte("{}")
			if in.Payload != nil {
				var err error
				if payload, err = json.Marshal(in.Payload); err != nil {
					return nil, awsmcp.ErrInvalidParameter("payload", "payload is not serializable").WithCause(err)
				}
			}

			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[LambdaAPI](ctx, clients, "lambda", region)
					if err != nil {
						return nil, err
					}
					out, err := api.Invoke(ctx, &lambda.InvokeInput{
						FunctionName:   aws.String(in.FunctionName),
						InvocationType: invocationType,
						Payload:        payload,
					})
					if err != nil {
						return nil, awsmcp.TranslateError("lambda", "Invoke", err)
					}

					result := map[string]any{
						"StatusCode":      out.StatusCode,
						"ExecutedVersion": out.ExecutedVersion,
					}
					if out.FunctionError != nil {
						result["FunctionError"] = aws.ToString(out.FunctionError)
					}
					if len(out.Payload) > 0 {
						var decoded any
						if err := json.Unmarshal(out.Payload, &decoded); err != nil {
							result["Payload"] = string(out.Payload)
						} else {
							result["Payload"] = decoded
						}
					}
					return map[string]any{"success": true, "result": result}, nil
				},
			}, nil
		})
}

// LambdaListFunctionsInput is the input of aws_lambda_list_functions.
type LambdaListFunctionsInput struct {
	Region string `json:"region,omitempty" jsonschema:"AWS region"`
}

// LambdaListFunctions lists functions across all pages.
func LambdaListFunctions() awsmcp.Tool {
	return newTool("aws_lambda_list_functions", "List Lambda functions", "lambda", false,
		func(in LambdaListFunctionsInput) (*awsmcp.Request, error) {
			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[LambdaAPI](ctx, clients, "lambda", region)
					if err != nil {
						return nil, err
					}

					functions := []map[string]any{}
					p := lambda.NewListFunctionsPaginator(api, &lambda.ListFunctionsInput{})
					for p.HasMorePages() {
						page, err := p.NextPage(ctx)
						if err != nil {
							return nil, awsmcp.TranslateError("lambda", "ListFunctions", err)
						}
						for _, f := range page.Functions {
							functions = append(functions, map[string]any{
								"FunctionName": aws.ToString(f.FunctionName),
								"Runtime":      string(f.Runtime),
								"Handler":      aws.ToString(f.Handler),
								"LastModified": aws.ToString(f.LastModified),
							})
						}
					}
					return map[string]any{"functions": functions}, nil
				},
			}, nil
		})
}
