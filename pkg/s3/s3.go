package s3

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// defaultSigningRegion is used for HMAC signing; COS accepts it for every location.
const defaultSigningRegion = "us-east-1"

// ErrObjectNotFound is returned by RequireObject when the key does not exist.
var ErrObjectNotFound = errors.New("object does not exist")

// Client is a thin wrapper around the AWS SDK v2 S3 client tuned for IBM Cloud Object Storage.
type Client struct {
	api *s3.Client
}

// Options configures a Client.
type Options struct {
	// Endpoint is a full URL or host[:port]. When empty it is derived from COSRegion.
	Endpoint string
	// COSRegion is the Cloud Object Storage location, e.g. "us-south".
	COSRegion string
	// SigningRegion defaults to us-east-1.
	SigningRegion string
	AccessKey     string
	SecretKey     string
	// DisableTLS selects http:// when Endpoint carries no scheme.
	DisableTLS     bool
	ForcePathStyle bool
	HTTPClient     *http.Client
}

// COSEndpoint returns the public Cloud Object Storage endpoint for a region.
func COSEndpoint(region string) string {
	return fmt.Sprintf("https://s3.%s.cloud-object-storage.appdomain.cloud", strings.TrimSpace(region))
}

// NewClient initialises a Client with static HMAC credentials.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("COS access key and secret key are required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		if strings.TrimSpace(opts.COSRegion) == "" {
			return nil, errors.New("COS endpoint or region is required")
		}
		endpoint = COSEndpoint(opts.COSRegion)
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if opts.DisableTLS {
			scheme = "http"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	region := opts.SigningRegion
	if region == "" {
		region = defaultSigningRegion
	}
	// A buildable client lets the SDK apply AWS_CA_BUNDLE; a plain *http.Client cannot.
	var httpClient awsconfig.HTTPClient = awshttp.NewBuildableClient().WithTimeout(30 * time.Second)
	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Client{api: client}, nil
}

// ObjectExists reports whether bucket/key exists. A missing object is not an error.
func (c *Client) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if c == nil {
		return false, errors.New("nil client")
	}
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
}

// RequireObject fails with ErrObjectNotFound when bucket/key is absent.
func (c *Client) RequireObject(ctx context.Context, bucket, key string) error {
	ok, err := c.ObjectExists(ctx, bucket, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return nil
}

// PutObject uploads data to the given bucket/key with checksum metadata.
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error {
	if c == nil {
		return errors.New("nil client")
	}
	checksum, err := encodeSHA256(sha256)
	if err != nil {
		return err
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &bucket,
		Key:               &key,
		Body:              r,
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": sha256,
		},
	})
	return err
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "404") {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func encodeSHA256(hexDigest string) (string, error) {
	if hexDigest == "" {
		return "", errors.New("sha256 digest required")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
