package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

func prepare(t *testing.T, tl awsmcp.Tool, args string) *awsmcp.Request {
	t.Helper()
	req, err := tl.Prepare(json.RawMessage(args))
	require.NoError(t, err)
	return req
}

func exec(t *testing.T, req *awsmcp.Request, clients *fakeClients) map[string]any {
	t.Helper()
	out, err := req.Exec(context.Background(), clients, "us-east-1")
	require.NoError(t, err)

	// Round-trip through JSON to look at the payload the caller sees.
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestAllToolsAreRegistrable(t *testing.T) {
	reg := awsmcp.NewToolRegistry()
	require.NoError(t, Register(reg))

	specs := reg.Specs()
	require.Len(t, specs, 13)
	for _, s := range specs {
		assert.True(t, strings.HasPrefix(s.Name, "aws_"+s.Service+"_"), s.Name)
		require.NotNil(t, s.InputSchema, s.Name)
		assert.Equal(t, "object", s.InputSchema.Type, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}

	tl, ok := reg.Get("aws_ec2_create_instance")
	require.True(t, ok)
	assert.True(t, tl.Spec().Mutating)
	assert.ElementsMatch(t, []string{"ami_id", "instance_type"}, tl.Spec().InputSchema.Required)
}

func TestPrepareRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		tool awsmcp.Tool
		args string
	}{
		{"missing required", EC2CreateInstance(), `{"ami_id":"ami-123"}`},
		{"empty required", EC2CreateInstance(), `{"ami_id":"ami-123","instance_type":""}`},
		{"unknown property", EC2StopInstance(), `{"instance_id":"i-1","force":true}`},
		{"wrong type", S3ListObjects(), `{"bucket":"logs","max_keys":"ten"}`},
		{"not an object", S3ListBuckets(), `[1,2]`},
		{"max keys out of range", S3ListObjects(), `{"bucket":"logs","max_keys":5000}`},
		{"bad presign operation", S3PresignedURL(), `{"bucket":"b","key":"k","operation":"delete_object"}`},
		{"expiration too long", S3PresignedURL(), `{"bucket":"b","key":"k","expiration":999999}`},
		{"bad invocation type", LambdaInvoke(), `{"function_name":"f","invocation_type":"Later"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tool.Prepare(json.RawMessage(tt.args))
			require.Error(t, err)
			assert.True(t, awsmcp.IsTag(err, awsmcp.TagValidation), err.Error())
		})
	}
}

func TestPrepareAcceptsEmptyArguments(t *testing.T) {
	for _, args := range []string{"", "null", "{}"} {
		_, err := S3ListBuckets().Prepare(json.RawMessage(args))
		assert.NoError(t, err, args)
	}
}

func TestEC2ListInstances(t *testing.T) {
	launched := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeEC2{describe: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
				InstanceId:       aws.String("i-1"),
				InstanceType:     ec2types.InstanceTypeT3Micro,
				State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
				PublicIpAddress:  aws.String("54.0.0.1"),
				PrivateIpAddress: aws.String("10.0.0.1"),
				LaunchTime:       &launched,
				Tags:             []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web")}},
			}}}},
			NextToken: aws.String("page-2"),
		},
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
				InstanceId:   aws.String("i-2"),
				InstanceType: ec2types.InstanceTypeM5Large,
				State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
			}}}},
		},
	}}
	clients := &fakeClients{handles: map[string]any{"ec2": fake}}

	req := prepare(t, EC2ListInstances(), `{"filters":[{"Name":"instance-state-name","Values":["running","stopped"]}],"region":"us-west-2"}`)
	assert.Equal(t, "us-west-2", req.Region)

	out := exec(t, req, clients)
	instances := out["instances"].([]any)
	require.Len(t, instances, 2)

	first := instances[0].(map[string]any)
	assert.Equal(t, "i-1", first["InstanceId"])
	assert.Equal(t, "t3.micro", first["InstanceType"])
	assert.Equal(t, "running", first["State"])
	assert.Equal(t, "54.0.0.1", first["PublicIpAddress"])
	assert.Equal(t, "10.0.0.1", first["PrivateIpAddress"])
	assert.Equal(t, "2025-03-01T10:00:00Z", first["LaunchTime"])
	assert.Equal(t, map[string]any{"Name": "web"}, first["Tags"])

	second := instances[1].(map[string]any)
	assert.Nil(t, second["PublicIpAddress"])
	assert.Nil(t, second["LaunchTime"])

	assert.Equal(t, 2, fake.pageCalls)
	assert.Equal(t, []string{"instance-state-name", "running", "stopped"}, fake.filters[0])
}

func TestEC2CreateInstance(t *testing.T) {
	launched := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	fake := &fakeEC2{run: &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{
		InstanceId: aws.String("i-new"),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
		LaunchTime: &launched,
	}}}}
	clients := &fakeClients{handles: map[string]any{"ec2": fake}}

	req := prepare(t, EC2CreateInstance(), `{"ami_id":"ami-123","instance_type":"t3.micro","key_name":"ops","subnet_id":"subnet-1","security_group_ids":["sg-1"],"tags":{"team":"core"}}`)
	assert.Equal(t, "t3.micro", req.CostClass)
	assert.Equal(t, map[string]string{"team": "core"}, req.Tags)

	out := exec(t, req, clients)
	assert.Equal(t, true, out["success"])
	instance := out["instance"].(map[string]any)
	assert.Equal(t, "i-new", instance["InstanceId"])
	assert.Equal(t, "pending", instance["State"])
	assert.Equal(t, "t3.micro", instance["InstanceType"])
	assert.Equal(t, "2025-03-01T09:00:00Z", instance["LaunchTime"])

	in := fake.runInput
	assert.Equal(t, "ami-123", aws.ToString(in.ImageId))
	assert.Equal(t, int32(1), aws.ToInt32(in.MinCount))
	assert.Equal(t, int32(1), aws.ToInt32(in.MaxCount))
	assert.Equal(t, "ops", aws.ToString(in.KeyName))
	assert.Equal(t, []string{"sg-1"}, in.SecurityGroupIds)
	require.Len(t, in.TagSpecifications, 1)
	assert.Equal(t, ec2types.ResourceTypeInstance, in.TagSpecifications[0].ResourceType)
}

func TestEC2StopAndStart(t *testing.T) {
	fake := &fakeEC2{
		stop: &ec2.StopInstancesOutput{StoppingInstances: []ec2types.InstanceStateChange{{
			InstanceId:   aws.String("i-1"),
			CurrentState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopping},
		}}},
		start: &ec2.StartInstancesOutput{},
	}
	clients := &fakeClients{handles: map[string]any{"ec2": fake}}

	out := exec(t, prepare(t, EC2StopInstance(), `{"instance_id":"i-1"}`), clients)
	assert.Equal(t, map[string]any{"success": true, "state": "stopping"}, out)

	_, err := prepare(t, EC2StartInstance(), `{"instance_id":"i-1"}`).Exec(context.Background(), clients, "us-east-1")
	assert.True(t, awsmcp.IsTag(err, awsmcp.TagResourceNotFound))
}

func TestEC2ErrorsAreTranslated(t *testing.T) {
	fake := &fakeEC2{err: &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "The instance ID 'i-9' does not exist"}}
	clients := &fakeClients{handles: map[string]any{"ec2": fake}}

	_, err := prepare(t, EC2StopInstance(), `{"instance_id":"i-9"}`).Exec(context.Background(), clients, "us-east-1")
	e, ok := awsmcp.AsError(err)
	require.True(t, ok)
	assert.Equal(t, awsmcp.TagResourceNotFound, e.Tag)
	assert.Equal(t, "StopInstances", e.Operation)
}

func TestClientRegistryErrorsPassThrough(t *testing.T) {
	clients := &fakeClients{err: awsmcp.ErrRegionNotEnabled("ap-south-1", []string{"us-east-1"})}
	_, err := prepare(t, EC2ListInstances(), `{}`).Exec(context.Background(), clients, "ap-south-1")
	assert.True(t, awsmcp.IsTag(err, awsmcp.TagRegionNotEnabled))
}

func TestS3ListBuckets(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeS3{buckets: &s3.ListBucketsOutput{Buckets: []s3types.Bucket{
		{Name: aws.String("logs"), CreationDate: &created},
	}}}
	clients := &fakeClients{handles: map[string]any{"s3": fake}}

	out := exec(t, prepare(t, S3ListBuckets(), `{}`), clients)
	assert.Equal(t, []any{map[string]any{"Name": "logs", "CreationDate": "2024-06-01T00:00:00Z"}}, out["buckets"])
	assert.Equal(t, []string{"us-east-1"}, clients.regions)
}

func TestS3ListObjects(t *testing.T) {
	modified := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	fake := &fakeS3{list: &s3.ListObjectsV2Output{Contents: []s3types.Object{
		{Key: aws.String("a.txt"), Size: aws.Int64(12), LastModified: &modified},
	}}}
	clients := &fakeClients{handles: map[string]any{"s3": fake}}

	out := exec(t, prepare(t, S3ListObjects(), `{"bucket":"logs","prefix":"a"}`), clients)
	assert.EqualValues(t, 1, out["count"])
	assert.Equal(t, int32(1000), aws.ToInt32(fake.listInput.MaxKeys))
	assert.Equal(t, "a", aws.ToString(fake.listInput.Prefix))

	objects := out["objects"].([]any)
	assert.Equal(t, "a.txt", objects[0].(map[string]any)["Key"])
	assert.EqualValues(t, 12, objects[0].(map[string]any)["Size"])
}

func TestS3UploadObject(t *testing.T) {
	fake := &fakeS3{put: &s3.PutObjectOutput{ETag: aws.String(`"abc123"`), VersionId: aws.String("v1")}}
	clients := &fakeClients{handles: map[string]any{"s3": fake}}

	out := exec(t, prepare(t, S3UploadObject(), `{"bucket":"logs","key":"a.txt","content":"hello","content_type":"text/plain","metadata":{"owner":"ops"}}`), clients)
	object := out["object"].(map[string]any)
	assert.Equal(t, "abc123", object["ETag"])
	assert.Equal(t, "v1", object["VersionId"])

	assert.Equal(t, "hello", fake.putBody)
	assert.Equal(t, "text/plain", aws.ToString(fake.putInput.ContentType))
	assert.Equal(t, map[string]string{"owner": "ops"}, fake.putInput.Metadata)
}

func TestS3PresignedURL(t *testing.T) {
	fake := &fakeS3{}
	clients := &fakeClients{handles: map[string]any{"s3": fake}}

	out := exec(t, prepare(t, S3PresignedURL(), `{"bucket":"logs","key":"a.txt"}`), clients)
	assert.EqualValues(t, 3600, out["expiration"])
	assert.Equal(t, "GET", out["method"])
	assert.Contains(t, out["url"], "X-Amz-Expires=3600")

	out = exec(t, prepare(t, S3PresignedURL(), `{"bucket":"logs","key":"a.txt","operation":"put_object","expiration":60}`), clients)
	assert.Equal(t, "PUT", out["method"])
	assert.Equal(t, []string{"GET logs/a.txt 1h0m0s", "PUT logs/a.txt 1m0s"}, fake.presigned)
}

func TestS3PresignedURLWithSDKClient(t *testing.T) {
	client := s3.New(s3.Options{
		Region:      "us-east-1",
		Credentials: aws.AnonymousCredentials{},
	})
	clients := &fakeClients{handles: map[string]any{"s3": client}}

	p, err := presignerFor(context.Background(), clients, "us-east-1")
	require.NoError(t, err)
	assert.IsType(t, &s3.PresignClient{}, p)
}

func TestLambdaInvoke(t *testing.T) {
	fake := &fakeLambda{invoke: &lambda.InvokeOutput{
		StatusCode:      200,
		ExecutedVersion: aws.String("$LATEST"),
		Payload:         []byte(`{"ok":true}`),
	}}
	clients := &fakeClients{handles: map[string]any{"lambda": fake}}

	out := exec(t, prepare(t, LambdaInvoke(), `{"function_name":"fn","payload":{"id":1}}`), clients)
	result := out["result"].(map[string]any)
	assert.EqualValues(t, 200, result["StatusCode"])
	assert.Equal(t, map[string]any{"ok": true}, result["Payload"])

	assert.Equal(t, lambdatypes.InvocationTypeRequestResponse, fake.invokeInput.InvocationType)
	assert.JSONEq(t, `{"id":1}`, string(fake.invokeInput.Payload))
}

func TestLambdaInvokeNonJSONPayload(t *testing.T) {
	fake := &fakeLambda{invoke: &lambda.InvokeOutput{
		StatusCode:    200,
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte("boom"),
	}}
	clients := &fakeClients{handles: map[string]any{"lambda": fake}}

	out := exec(t, prepare(t, LambdaInvoke(), `{"function_name":"fn","invocation_type":"Event"}`), clients)
	result := out["result"].(map[string]any)
	assert.Equal(t, "boom", result["Payload"])
	assert.Equal(t, "Unhandled", result["FunctionError"])
	assert.Equal(t, lambdatypes.InvocationTypeEvent, fake.invokeInput.InvocationType)
	assert.Equal(t, "{}", string(fake.invokeInput.Payload))
}

func TestLambdaListFunctions(t *testing.T) {
	fake := &fakeLambda{functions: &lambda.ListFunctionsOutput{Functions: []lambdatypes.FunctionConfiguration{{
		FunctionName: aws.String("fn"),
		Runtime:      lambdatypes.RuntimeProvidedal2023,
		Handler:      aws.String("bootstrap"),
		LastModified: aws.String("2025-01-01T00:00:00.000+0000"),
	}}}}
	clients := &fakeClients{handles: map[string]any{"lambda": fake}}

	out := exec(t, prepare(t, LambdaListFunctions(), `{}`), clients)
	functions := out["functions"].([]any)
	require.Len(t, functions, 1)
	assert.Equal(t, "fn", functions[0].(map[string]any)["FunctionName"])
	assert.Equal(t, "provided.al2023", functions[0].(map[string]any)["Runtime"])
}

func TestDynamoDBQuery(t *testing.T) {
	item, err := attributevalue.MarshalMap(map[string]any{"pk": "user#1", "visits": 3})
	require.NoError(t, err)
	fake := &fakeDynamoDB{query: &dynamodb.QueryOutput{Items: []map[string]ddbtypes.AttributeValue{item}}}
	clients := &fakeClients{handles: map[string]any{"dynamodb": fake}}

	req := prepare(t, DynamoDBQuery(), `{"table_name":"users","key_condition_expression":"pk = :pk","expression_attribute_values":{":pk":"user#1"},"expression_attribute_names":{"#v":"visits"}}`)
	out := exec(t, req, clients)

	assert.EqualValues(t, 1, out["count"])
	items := out["items"].([]any)
	assert.Equal(t, "user#1", items[0].(map[string]any)["pk"])
	assert.EqualValues(t, 3, items[0].(map[string]any)["visits"])

	in := fake.queryInput
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "user#1"}, in.ExpressionAttributeValues[":pk"])
	assert.Equal(t, map[string]string{"#v": "visits"}, in.ExpressionAttributeNames)
}

func TestCloudFormationCreateStack(t *testing.T) {
	fake := &fakeCloudFormation{create: &cloudformation.CreateStackOutput{StackId: aws.String("arn:aws:cloudformation:us-east-1:123456789012:stack/app/1")}}
	clients := &fakeClients{handles: map[string]any{"cloudformation": fake}}

	out := exec(t, prepare(t, CloudFormationCreateStack(), `{"stack_name":"app","template_body":"{}","template_url":"https://example.com/t.yaml","parameters":[{"ParameterKey":"Env","ParameterValue":"prod"}],"capabilities":["CAPABILITY_IAM"]}`), clients)
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["stack_id"], "stack/app")

	in := fake.createInput
	assert.Equal(t, "{}", aws.ToString(in.TemplateBody))
	assert.Nil(t, in.TemplateURL)
	assert.Equal(t, "Env", aws.ToString(in.Parameters[0].ParameterKey))
	assert.Equal(t, []cfntypes.Capability{cfntypes.CapabilityCapabilityIam}, in.Capabilities)
}

func TestCloudFormationDescribeStack(t *testing.T) {
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeCloudFormation{describe: &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{{
		StackName:    aws.String("app"),
		StackStatus:  cfntypes.StackStatusCreateComplete,
		CreationTime: &created,
		Outputs:      []cfntypes.Output{{OutputKey: aws.String("Url"), OutputValue: aws.String("https://app")}},
	}}}}
	clients := &fakeClients{handles: map[string]any{"cloudformation": fake}}

	out := exec(t, prepare(t, CloudFormationDescribeStack(), `{"stack_name":"app"}`), clients)
	assert.Equal(t, "CREATE_COMPLETE", out["status"])
	assert.Equal(t, "2025-02-01T00:00:00Z", out["creation_time"])
	outputs := out["outputs"].([]any)
	assert.Equal(t, "https://app", outputs[0].(map[string]any)["OutputValue"])
}

func TestCloudFormationMissingStack(t *testing.T) {
	fake := &fakeCloudFormation{err: &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id app does not exist"}}
	clients := &fakeClients{handles: map[string]any{"cloudformation": fake}}

	_, err := prepare(t, CloudFormationDescribeStack(), `{"stack_name":"app"}`).Exec(context.Background(), clients, "us-east-1")
	assert.True(t, awsmcp.IsTag(err, awsmcp.TagResourceNotFound))
}
