package tools

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the dynamodb tools.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBQueryInput is the input of aws_dynamodb_query. Attribute values
// are plain JSON values; they are converted to and from DynamoDB attribute
// values.
type DynamoDBQueryInput struct {
	TableName                 string            `json:"table_name" jsonschema:"table name"`
	KeyConditionExpression    string            `json:"key_condition_expression" jsonschema:"key condition expression"`
	ExpressionAttributeValues map[string]any    `json:"expression_attribute_values" jsonschema:"expression attribute values keyed by placeholder, as plain JSON values"`
	ExpressionAttributeNames  map[string]string `json:"expression_attribute_names,omitempty" jsonschema:"expression attribute names"`
	Region                    string            `json:"region,omitempty" jsonschema:"AWS region"`
}

// DynamoDBQuery runs one query page.
func DynamoDBQuery() awsmcp.Tool {
	return newTool("aws_dynamodb_query", "Query DynamoDB table", "dynamodb", false,
		func(in DynamoDBQueryInput) (*awsmcp.Request, error) {
			if err := required("table_name", in.TableName); err != nil {
				return nil, err
			}
			if err := required("key_condition_expression", in.KeyConditionExpression); err != nil {
				return nil, err
			}
			values, err := attributevalue.MarshalMap(in.ExpressionAttributeValues)
			if err != nil {
				return nil, awsmcp.ErrInvalidParameter("expression_attribute_values", err.Error()).WithCause(err)
			}

			input := &dynamodb.QueryInput{
				TableName:                 aws.String(in.TableName),
				KeyConditionExpression:    aws.String(in.KeyConditionExpression),
				ExpressionAttributeValues: values,
			}
			if len(in.ExpressionAttributeNames) > 0 {
				input.ExpressionAttributeNames = in.ExpressionAttributeNames
			}

			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[DynamoDBAPI](ctx, clients, "dynamodb", region)
					if err != nil {
						return nil, err
					}
					out, err := api.Query(ctx, input)
					if err != nil {
						return nil, awsmcp.TranslateError("dynamodb", "Query", err)
					}

					items := []map[string]any{}
					if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
						return nil, awsmcp.ErrService("decode query items: "+err.Error(), "dynamodb", "Query").WithCause(err)
					}
					result := map[string]any{"items": items, "count": len(items)}
					if len(out.LastEvaluatedKey) > 0 {
						var last map[string]any
						if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err == nil {
							result["last_evaluated_key"] = last
						}
					}
					return result, nil
				},
			}, nil
		})
}
