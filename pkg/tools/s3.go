package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// S3API is the subset of the S3 client used by the s3 tools.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Presigner signs object URLs. *s3.PresignClient implements it.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

const (
	defaultMaxKeys    = 1000
	defaultExpiration = 3600
	// SigV4 presigned URLs are valid for at most seven days.
	maxExpiration = 7 * 24 * 3600
)

// S3ListBucketsInput is the input of aws_s3_list_buckets.
type S3ListBucketsInput struct{}

// S3ListBuckets lists the account's buckets.
func S3ListBuckets() awsmcp.Tool {
	return newTool("aws_s3_list_buckets", "List S3 buckets", "s3", false,
		func(S3ListBucketsInput) (*awsmcp.Request, error) {
			return &awsmcp.Request{
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[S3API](ctx, clients, "s3", region)
					if err != nil {
						return nil, err
					}
					out, err := api.ListBuckets(ctx, &s3.ListBucketsInput{})
					if err != nil {
						return nil, awsmcp.TranslateError("s3", "ListBuckets", err)
					}

					buckets := make([]map[string]any, 0, len(out.Buckets))
					for _, b := range out.Buckets {
						buckets = append(buckets, map[string]any{
							"Name":         aws.ToString(b.Name),
							"CreationDate": formatTime(b.CreationDate),
						})
					}
					return map[string]any{"buckets": buckets}, nil
				},
			}, nil
		})
}

// S3ListObjectsInput is the input of aws_s3_list_objects.
type S3ListObjectsInput struct {
	Bucket  string `json:"bucket" jsonschema:"bucket name"`
	Prefix  string `json:"prefix,omitempty" jsonschema:"object prefix"`
	MaxKeys int    `json:"max_keys,omitempty" jsonschema:"maximum number of keys (default 1000)"`
}

// S3ListObjects lists one page of objects in a bucket.
func S3ListObjects() awsmcp.Tool {
	return newTool("aws_s3_list_objects", "List objects in S3 bucket", "s3", false,
		func(in S3ListObjectsInput) (*awsmcp.Request, error) {
			if err := required("bucket", in.Bucket); err != nil {
				return nil, err
			}
			maxKeys := in.MaxKeys
			if maxKeys == 0 {
				maxKeys = defaultMaxKeys
			}
			if maxKeys < 0 || maxKeys > defaultMaxKeys {
				return nil, awsmcp.ErrInvalidParameter("max_keys", fmt.Sprintf("max_keys must be between 1 and %d", defaultMaxKeys))
			}

			input := &s3.ListObjectsV2Input{
				Bucket:  aws.String(in.Bucket),
				MaxKeys: aws.Int32(int32(maxKeys)),
			}
			if in.Prefix != "" {
				input.Prefix = aws.String(in.Prefix)
			}

			return &awsmcp.Request{
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[S3API](ctx, clients, "s3", region)
					if err != nil {
						return nil, err
					}
					out, err := api.ListObjectsV2(ctx, input)
					if err != nil {
						return nil, awsmcp.TranslateError("s3", "ListObjectsV2", err)
					}

					objects := make([]map[string]any, 0, len(out.Contents))
					for _, o := range out.Contents {
						objects = append(objects, map[string]any{
							"Key":          aws.ToString(o.Key),
							"Size":         aws.ToInt64(o.Size),
							"LastModified": formatTime(o.LastModified),
						})
					}
					return map[string]any{
						"objects":   objects,
						"count":     len(objects),
						"truncated": aws.ToBool(out.IsTruncated),
					}, nil
				},
			}, nil
		})
}

// S3UploadObjectInput is the input of aws_s3_upload_object.
type S3UploadObjectInput struct {
	Bucket      string            `json:"bucket" jsonschema:"bucket name"`
	Key         string            `json:"key" jsonschema:"object key"`
	Content     string            `json:"content" jsonschema:"object content"`
	ContentType string            `json:"content_type,omitempty" jsonschema:"content type"`
	Metadata    map[string]string `json:"metadata,omitempty" jsonschema:"object metadata"`
}

// S3UploadObject writes a text object.
func S3UploadObject() awsmcp.Tool {
	return newTool("aws_s3_upload_object", "Upload object to S3", "s3", true,
		func(in S3UploadObjectInput) (*awsmcp.Request, error) {
			if err := required("bucket", in.Bucket); err != nil {
				return nil, err
			}
			if err := required("key", in.Key); err != nil {
				return nil, err
			}

			return &awsmcp.Request{
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[S3API](ctx, clients, "s3", region)
					if err != nil {
						return nil, err
					}
					input := &s3.PutObjectInput{
						Bucket: aws.String(in.Bucket),
						Key:    aws.String(in.Key),
						Body:   strings.NewReader(in.Content),
					}
					if in.ContentType != "" {
						input.ContentType = aws.String(in.ContentType)
					}
					if len(in.Metadata) > 0 {
						input.Metadata = in.Metadata
					}

					out, err := api.PutObject(ctx, input)
					if err != nil {
						return nil, awsmcp.TranslateError("s3", "PutObject", err)
					}
					return map[string]any{
						"success": true,
						"object": map[string]any{
							"Bucket":    in.Bucket,
							"Key":       in.Key,
							"ETag":      strings.Trim(aws.ToString(out.ETag), `"`),
							"VersionId": out.VersionId,
						},
					}, nil
				},
			}, nil
		})
}

// S3PresignedURLInput is the input of aws_s3_presigned_url.
type S3PresignedURLInput struct {
	Bucket     string `json:"bucket" jsonschema:"bucket name"`
	Key        string `json:"key" jsonschema:"object key"`
	Operation  string `json:"operation,omitempty" jsonschema:"get_object (default) or put_object"`
	Expiration int    `json:"expiration,omitempty" jsonschema:"URL expiration in seconds (default 3600)"`
}

// S3PresignedURL signs a GET or PUT URL for one object.
func S3PresignedURL() awsmcp.Tool {
	return newTool("aws_s3_presigned_url", "Generate presigned URL for S3 object", "s3", false,
		func(in S3PresignedURLInput) (*awsmcp.Request, error) {
			if err := required("bucket", in.Bucket); err != nil {
				return nil, err
			}
			if err := required("key", in.Key); err != nil {
				return nil, err
			}
			op := in.Operation
			if op == "" {
				op = "get_object"
			}
			if op != "get_object" && op != "put_object" {
				return nil, awsmcp.ErrInvalidParameter("operation", "operation must be get_object or put_object")
			}
			expiration := in.Expiration
			if expiration == 0 {
				expiration = defaultExpiration
			}
			if expiration < 1 || expiration > maxExpiration {
				return nil, awsmcp.ErrInvalidParameter("expiration",
					fmt.Sprintf("expiration must be between 1 and %d seconds", maxExpiration))
			}

			return &awsmcp.Request{
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					presigner, err := presignerFor(ctx, clients, region)
					if err != nil {
						return nil, err
					}
					expires := s3.WithPresignExpires(time.Duration(expiration) * time.Second)

					var req *v4.PresignedHTTPRequest
					if op == "put_object" {
						req, err = presigner.PresignPutObject(ctx, &s3.PutObjectInput{
							Bucket: aws.String(in.Bucket),
							Key:    aws.String(in.Key),
						}, expires)
					} else {
						req, err = presigner.PresignGetObject(ctx, &s3.GetObjectInput{
							Bucket: aws.String(in.Bucket),
							Key:    aws.String(in.Key),
						}, expires)
					}
					if err != nil {
						return nil, awsmcp.TranslateError("s3", "Presign", err)
					}
					return map[string]any{
						"url":        req.URL,
						"method":     req.Method,
						"expiration": expiration,
					}, nil
				},
			}, nil
		})
}

func presignerFor(ctx context.Context, clients awsmcp.Clients, region string) (S3Presigner, error) {
	c, err := clients.Client(ctx, "s3", region)
	if err != nil {
		return nil, err
	}
	switch c := c.(type) {
	case *s3.Client:
		return s3.NewPresignClient(c), nil
	case S3Presigner:
		return c, nil
	}
	return nil, awsmcp.ErrService(fmt.Sprintf("unexpected s3 client %T", c), "s3", "Presign")
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
