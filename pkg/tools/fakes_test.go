package tools

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// fakeClients serves fixed handles per service and records the regions asked for.
type fakeClients struct {
	handles map[string]any
	regions []string
	err     error
}

func (c *fakeClients) Client(ctx context.Context, service, region string) (any, error) {
	c.regions = append(c.regions, region)
	if c.err != nil {
		return nil, c.err
	}
	h, ok := c.handles[service]
	if !ok {
		return nil, fmt.Errorf("no fake for %s", service)
	}
	return h, nil
}

// fakeFactory hands the same fakes to a real ClientRegistry.
type fakeFactory struct {
	handles map[string]any
}

func (f *fakeFactory) NewClient(ctx context.Context, service string, cfg aws.Config, opts awsmcp.ClientOptions) (any, error) {
	return f.handles[service], nil
}

type fakeLoader struct{}

func (fakeLoader) LoadBase(ctx context.Context, id awsmcp.AccountIdentity) (aws.Config, error) {
	return aws.Config{Region: id.Region}, nil
}

type fakeEC2 struct {
	describe  []*ec2.DescribeInstancesOutput
	runInput  *ec2.RunInstancesInput
	run       *ec2.RunInstancesOutput
	stop      *ec2.StopInstancesOutput
	start     *ec2.StartInstancesOutput
	err       error
	filters   [][]string
	pageCalls int
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, flt := range in.Filters {
		f.filters = append(f.filters, append([]string{aws.ToString(flt.Name)}, flt.Values...))
	}
	page := f.describe[f.pageCalls]
	f.pageCalls++
	return page, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stop, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.start, nil
}

type fakeS3 struct {
	buckets   *s3.ListBucketsOutput
	listInput *s3.ListObjectsV2Input
	list      *s3.ListObjectsV2Output
	putInput  *s3.PutObjectInput
	putBody   string
	put       *s3.PutObjectOutput
	presigned []string
	err       error
}

func (f *fakeS3) ListBuckets(ctx context.Context, in *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = in
	if in.Body != nil {
		buf := make([]byte, 1024)
		n, _ := in.Body.Read(buf)
		f.putBody = string(buf[:n])
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.put, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.sign("GET", aws.ToString(in.Bucket), aws.ToString(in.Key), optFns)
}

func (f *fakeS3) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.sign("PUT", aws.ToString(in.Bucket), aws.ToString(in.Key), optFns)
}

func (f *fakeS3) sign(method, bucket, key string, optFns []func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.presigned = append(f.presigned, fmt.Sprintf("%s %s/%s %s", method, bucket, key, opts.Expires))
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://%s.s3.amazonaws.com/%s?X-Amz-Expires=%d", bucket, key, int(opts.Expires.Seconds())),
		Method: method,
	}, nil
}

type fakeLambda struct {
	invokeInput *lambda.InvokeInput
	invoke      *lambda.InvokeOutput
	functions   *lambda.ListFunctionsOutput
	err         error
}

func (f *fakeLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.invokeInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.invoke, nil
}

func (f *fakeLambda) ListFunctions(ctx context.Context, in *lambda.ListFunctionsInput, _ ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.functions, nil
}

type fakeDynamoDB struct {
	queryInput *dynamodb.QueryInput
	query      *dynamodb.QueryOutput
	err        error
}

func (f *fakeDynamoDB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.query, nil
}

type fakeCloudFormation struct {
	createInput *cloudformation.CreateStackInput
	create      *cloudformation.CreateStackOutput
	describe    *cloudformation.DescribeStacksOutput
	err         error
}

func (f *fakeCloudFormation) CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.create, nil
}

func (f *fakeCloudFormation) DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.describe, nil
}

var (
	_ EC2API            = (*fakeEC2)(nil)
	_ S3API             = (*fakeS3)(nil)
	_ S3Presigner       = (*fakeS3)(nil)
	_ LambdaAPI         = (*fakeLambda)(nil)
	_ DynamoDBAPI       = (*fakeDynamoDB)(nil)
	_ CloudFormationAPI = (*fakeCloudFormation)(nil)

	_ EC2API            = (*ec2.Client)(nil)
	_ S3API             = (*s3.Client)(nil)
	_ S3Presigner       = (*s3.PresignClient)(nil)
	_ LambdaAPI         = (*lambda.Client)(nil)
	_ DynamoDBAPI       = (*dynamodb.Client)(nil)
	_ CloudFormationAPI = (*cloudformation.Client)(nil)
)
