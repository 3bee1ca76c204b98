// Package storage wraps the S3-compatible object store that holds upload
// files and their archives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"fileshare/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by DeleteObject and ObjectSize for a
// missing object.
var ErrObjectNotFound = errors.New("object_not_found")

// UploadTarget is a presigned write URL and the object it will create.
type UploadTarget struct {
	URL        string `json:"url"`
	ObjectName string `json:"objectName"`
}

// ObjectStore is the subset of the object store the upload lifecycle and
// the archive dispatcher depend on.
type ObjectStore interface {
	IssueUploadTarget(ctx context.Context, filename string, size int64, bucket, prefix string) (UploadTarget, error)
	IssueDownloadURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, bucket, name string) error
	ObjectExists(ctx context.Context, bucket, name string) (bool, error)
	// ObjectSize returns the stored length of an object, or
	// ErrObjectNotFound.
	ObjectSize(ctx context.Context, bucket, name string) (int64, error)
	MakePublic(ctx context.Context, bucket, name string) error
	PublicURL(bucket, name string) string
}

// S3Store implements ObjectStore on top of an S3 client.
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	publicBaseURL string
	urlTTL        time.Duration
}

// NewS3Client builds an S3 client for an S3-compatible endpoint using static
// credentials and path-style addressing.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	}), nil
}

func NewS3Store(client *s3.Client, publicBaseURL string, urlTTL time.Duration) *S3Store {
	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		urlTTL:        urlTTL,
	}
}

// ObjectName builds "{prefix}/{random18}---{filename}". The random part keeps
// names unique when the same file is uploaded twice.
func ObjectName(prefix, filename string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
	name := random + "---" + path.Base(filename)
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}

// DisplayName strips the prefix and the random part from an object name.
func DisplayName(objectName string) string {
	base := path.Base(objectName)
	if i := strings.Index(base, "---"); i >= 0 {
		return base[i+3:]
	}
	return base
}

// ObjectNameFromPublicURL recovers the object name from a URL built by
// PublicURL for the given bucket.
func ObjectNameFromPublicURL(bucket, publicURL string) (string, bool) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", false
	}
	marker := "/" + bucket + "/"
	i := strings.Index(u.EscapedPath(), marker)
	if i < 0 {
		return "", false
	}
	name, err := url.PathUnescape(u.EscapedPath()[i+len(marker):])
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func (s *S3Store) IssueUploadTarget(ctx context.Context, filename string, size int64, bucket, prefix string) (UploadTarget, error) {
	name := ObjectName(prefix, filename)
	req, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(name),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return UploadTarget{}, fmt.Errorf("presign put %s/%s: %w", bucket, name, err)
	}
	return UploadTarget{URL: req.URL, ObjectName: name}, nil
}

func (s *S3Store) IssueDownloadURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", bucket, name, err)
	}
	return req.URL, nil
}

func (s *S3Store) DeleteObject(ctx context.Context, bucket, name string) error {
	exists, err := s.ObjectExists(ctx, bucket, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrObjectNotFound
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	}); err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (s *S3Store) ObjectExists(ctx context.Context, bucket, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", bucket, name, err)
}

func (s *S3Store) ObjectSize(ctx context.Context, bucket, name string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("head object %s/%s: %w", bucket, name, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) MakePublic(ctx context.Context, bucket, name string) error {
	if _, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
		ACL:    types.ObjectCannedACLPublicRead,
	}); err != nil {
		return fmt.Errorf("make %s/%s public: %w", bucket, name, err)
	}
	return nil
}

func (s *S3Store) PublicURL(bucket, name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// removeDisableGzip works around signature mismatches on S3-compatible
// services that reject the Accept-Encoding override.
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
