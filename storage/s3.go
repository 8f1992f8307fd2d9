package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// S3Store implements a ResourceStore on Amazon S3 or compatible services.
// Resource URLs below "s3://bucket/prefix/" map to object keys; containers are key prefixes.
// Public read is mirrored to the canned object ACL, and the full access document is kept
// in a ".acl" companion object.
type S3Store struct {
	client     s3iface.S3API
	bucketName string
	prefix     string
	base       string
	log        *slog.Logger
}

// NewS3Store creates a new S3 resource store.
// If accessKey and secretKey are empty the default credential chain is used.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3StoreWithClient(s3.New(sess), bucketName, prefix, log), nil
}

// NewS3StoreWithClient creates an S3 resource store on an existing client.
func NewS3StoreWithClient(client s3iface.S3API, bucketName, prefix string, log *slog.Logger) *S3Store {
	prefix = strings.Trim(prefix, "/")
	base := fmt.Sprintf("s3://%s/", bucketName)
	if prefix != "" {
		prefix += "/"
		base += prefix
	}

	return &S3Store{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		base:       base,
		log:        log,
	}
}

// Base returns the URL prefix this store serves.
func (b *S3Store) Base() string {
	return b.base
}

// Name returns identifier for logging.
func (b *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

func (b *S3Store) keyFor(resourceURL string) (string, error) {
	rest, ok := strings.CutPrefix(resourceURL, b.base)
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrResourceOutsideStore, resourceURL)
	}
	return b.prefix + rest, nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var rerr awserr.RequestFailure
	return errors.As(err, &rerr) && rerr.StatusCode() == 404
}

func s3Error(err error) error {
	if isS3NotFound(err) {
		return interfaces.ErrResourceNotFound
	}
	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) && rerr.StatusCode() == 403 {
		return fmt.Errorf("%w: %v", interfaces.ErrAccessForbidden, err)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

func (b *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrBackendUnavailable, err)
	}
	return data, nil
}

func (b *S3Store) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		return s3Error(err)
	}
	return nil
}

// Read retrieves an object.
func (b *S3Store) Read(ctx context.Context, resourceURL string) ([]byte, error) {
	start := time.Now()
	key, err := b.keyFor(resourceURL)
	if err != nil {
		return nil, err
	}

	data, err := b.getObject(ctx, key)
	if err != nil {
		if !errors.Is(err, interfaces.ErrResourceNotFound) {
			b.log.Error("Failed to get object from S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", key),
				"err", err,
				slog.Duration("duration", time.Since(start)))
		}
		return nil, err
	}

	b.log.Debug("Fetched resource from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Exists heads an object, or checks that a container prefix is non-empty.
func (b *S3Store) Exists(ctx context.Context, resourceURL string) (bool, error) {
	key, err := b.keyFor(resourceURL)
	if err != nil {
		return false, err
	}

	if isContainer(resourceURL) {
		out, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucketName),
			Prefix:  aws.String(key),
			MaxKeys: aws.Int64(1),
		})
		if err != nil {
			return false, s3Error(err)
		}
		return len(out.Contents) > 0, nil
	}

	_, err = b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, s3Error(err)
	}
	return true, nil
}

// Write uploads the object as a whole. Objects are private until SetAccess says otherwise.
func (b *S3Store) Write(ctx context.Context, resourceURL string, data []byte, contentType string) (string, error) {
	if isContainer(resourceURL) || isACL(resourceURL) {
		return "", fmt.Errorf("cannot write %s: not a plain resource", resourceURL)
	}
	key, err := b.keyFor(resourceURL)
	if err != nil {
		return "", err
	}

	if err := b.putObject(ctx, key, data, contentType); err != nil {
		b.log.Error("Failed to upload object to S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err)
		return "", err
	}

	// Re-apply public read, a plain put resets the canned ACL.
	access, err := b.readAccess(ctx, key)
	if err == nil && access.Public.Read {
		if err := b.putObjectACL(ctx, key, true); err != nil {
			return "", err
		}
	}

	b.log.Debug("Stored resource in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return resourceURL, nil
}

// List returns the direct children of a container prefix, sorted.
func (b *S3Store) List(ctx context.Context, containerURL string) ([]string, error) {
	if !isContainer(containerURL) {
		containerURL += "/"
	}
	key, err := b.keyFor(containerURL)
	if err != nil {
		return nil, err
	}

	var children []string
	err = b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			children = append(children, containerURL+strings.TrimPrefix(aws.StringValue(cp.Prefix), key))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), key)
			if name == "" || isACL(name) {
				continue
			}
			children = append(children, containerURL+name)
		}
		return true
	})
	if err != nil {
		return nil, s3Error(err)
	}

	sort.Strings(children)
	return children, nil
}

func (b *S3Store) readAccess(ctx context.Context, key string) (interfaces.Access, error) {
	data, err := b.getObject(ctx, key+aclSuffix)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return emptyAccess(), nil
		}
		return interfaces.Access{}, err
	}
	return decodeAccess(data)
}

func (b *S3Store) putObjectACL(ctx context.Context, key string, public bool) error {
	acl := s3.ObjectCannedACLPrivate
	if public {
		acl = s3.ObjectCannedACLPublicRead
	}
	_, err := b.client.PutObjectAclWithContext(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		ACL:    aws.String(acl),
	})
	if err != nil {
		return s3Error(err)
	}
	return nil
}

// SetAccess applies the rule to an existing resource.
func (b *S3Store) SetAccess(ctx context.Context, resourceURL string, rule interfaces.AccessRule) (interfaces.Access, error) {
	current, err := b.Access(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	key, err := b.keyFor(resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}

	updated := current.Apply(rule)
	data, err := encodeAccess(updated)
	if err != nil {
		return interfaces.Access{}, err
	}
	if err := b.putObject(ctx, key+aclSuffix, data, "application/json"); err != nil {
		return interfaces.Access{}, err
	}

	if !isContainer(resourceURL) && updated.Public.Read != current.Public.Read {
		if err := b.putObjectACL(ctx, key, updated.Public.Read); err != nil {
			return interfaces.Access{}, err
		}
	}

	return updated, nil
}

// Access returns the effective access of an existing resource.
func (b *S3Store) Access(ctx context.Context, resourceURL string) (interfaces.Access, error) {
	exists, err := b.Exists(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	if !exists {
		return interfaces.Access{}, interfaces.ErrResourceNotFound
	}
	key, err := b.keyFor(resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	return b.readAccess(ctx, key)
}

// Available checks if the bucket is accessible.
func (b *S3Store) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 store unavailable",
			slog.String("bucket", b.bucketName),
			"err", err)
		return false
	}
	return true
}
