package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3api is the minimal subset of s3 client methods we use; allows test fakes.
type s3api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type S3Client struct {
	client s3api
}

// NewS3 creates an S3 client honoring env configuration for MinIO.
// Env support: AWS_REGION, AWS_ENDPOINT_URL_S3, AWS_S3_FORCE_PATH_STYLE.
func NewS3(ctx context.Context) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	})
	return &S3Client{client: client}, nil
}

// NewS3WithAPI wraps an existing client; used by tests.
func NewS3WithAPI(api s3api) *S3Client { return &S3Client{client: api} }

func (s *S3Client) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range resp.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			return out, nil
		}
		token = resp.NextContinuationToken
		if token == nil {
			return nil, errors.New("truncated listing without continuation token")
		}
	}
}

func (s *S3Client) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := srcBucket + "/" + srcKey
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		CopySource: aws.String(url.PathEscape(src)),
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return fmt.Errorf("copy %s -> s3://%s/%s: %w", src, dstBucket, dstKey, err)
	}
	return nil
}

func (s *S3Client) Delete(ctx context.Context, bucket string, keys []string) (map[string]error, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	objs := make([]s3types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objs[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
	}
	resp, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3types.Delete{Objects: objs, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("delete %d keys in s3://%s: %w", len(keys), bucket, err)
	}
	var failed map[string]error
	for _, e := range resp.Errors {
		if failed == nil {
			failed = make(map[string]error)
		}
		failed[aws.ToString(e.Key)] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
	}
	return failed, nil
}
