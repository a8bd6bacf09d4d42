package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ShardSource opens a remote shard by file name. The returned size is the
// expected body length, or -1 when the source does not know it.
type ShardSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// NewSource
// Picks a ShardSource for a base URI: `s3://bucket/prefix` uses S3,
// `http(s)://` uses HTTP, and an existing local directory (or `file://`)
// is read directly.
func NewSource(baseURI string) (ShardSource, error) {
	u, parseErr := url.Parse(baseURI)
	if parseErr == nil {
		switch u.Scheme {
		case "s3":
			return NewS3Source(baseURI)
		case "http", "https":
			return NewHTTPSource(baseURI, os.Getenv("HF_TOKEN")), nil
		case "file":
			return &DirSource{Dir: u.Path}, nil
		}
	}
	if stat, statErr := os.Stat(baseURI); statErr == nil && stat.IsDir() {
		return &DirSource{Dir: baseURI}, nil
	}
	return nil, fmt.Errorf("%w: unsupported base url %q", ErrInvalidConfig,
		baseURI)
}

// HTTPSource
// Fetches shards from a remote HTTP server with optional bearer token auth.
type HTTPSource struct {
	BaseURL string
	Auth    string
	Client  *http.Client
}

// NewHTTPSource
// The client bounds connection setup and time to first response byte, but
// not the body, as shards are large.
func NewHTTPSource(baseURL string, auth string) *HTTPSource {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	return &HTTPSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Auth:    auth,
		Client:  &http.Client{Transport: transport},
	}
}

func (src *HTTPSource) Open(ctx context.Context, name string) (
	io.ReadCloser, int64, error) {
	if src.Client == nil {
		return nil, 0, fmt.Errorf("%w: no http client", ErrMissingCapability)
	}
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet,
		src.BaseURL+"/"+name, nil)
	if reqErr != nil {
		return nil, 0, reqErr
	}
	if src.Auth != "" {
		req.Header.Add("Authorization", "Bearer "+src.Auth)
	}
	resp, remoteErr := src.Client.Do(req)
	if remoteErr != nil {
		return nil, 0, remoteErr
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("GET %s/%s: HTTP status code %d",
			src.BaseURL, name, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// S3Client is the subset of the S3 API used to fetch shards.
type S3Client interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput,
		opts ...request.Option) (*s3.GetObjectOutput, error)
}

// S3Source fetches shards from `s3://bucket/prefix`.
type S3Source struct {
	Bucket string
	Prefix string
	Client S3Client
}

// NewS3Source
// Builds an S3 client from the shared AWS configuration. A session that
// cannot be created is a missing capability rather than a transient error.
func NewS3Source(baseURI string) (*S3Source, error) {
	bucket, prefix, parseErr := parseS3URI(baseURI)
	if parseErr != nil {
		return nil, parseErr
	}
	sess, sessErr := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if sessErr != nil {
		return nil, fmt.Errorf("%w: s3 session: %v", ErrMissingCapability,
			sessErr)
	}
	return &S3Source{
		Bucket: bucket,
		Prefix: prefix,
		Client: s3.New(sess),
	}, nil
}

func parseS3URI(uri string) (bucket string, prefix string, err error) {
	u, parseErr := url.Parse(uri)
	if parseErr != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: invalid s3 uri %q",
			ErrInvalidConfig, uri)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (src *S3Source) Key(name string) string {
	if src.Prefix == "" {
		return name
	}
	return path.Join(src.Prefix, name)
}

func (src *S3Source) Open(ctx context.Context, name string) (
	io.ReadCloser, int64, error) {
	if src.Client == nil {
		return nil, 0, fmt.Errorf("%w: no s3 client", ErrMissingCapability)
	}
	out, getErr := src.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key(name)),
	})
	if getErr != nil {
		return nil, 0, fmt.Errorf("s3://%s/%s: %w", src.Bucket,
			src.Key(name), getErr)
	}
	if out.Body == nil {
		return nil, 0, errors.New(fmt.Sprintf("s3://%s/%s: empty body",
			src.Bucket, src.Key(name)))
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = aws.Int64Value(out.ContentLength)
	}
	return out.Body, size, nil
}

// DirSource reads shards from a local directory mirror.
type DirSource struct {
	Dir string
}

func (src *DirSource) Open(_ context.Context, name string) (
	io.ReadCloser, int64, error) {
	handle, openErr := os.Open(filepath.Join(src.Dir, name))
	if openErr != nil {
		return nil, 0, openErr
	}
	stat, statErr := handle.Stat()
	if statErr != nil {
		handle.Close()
		return nil, 0, statErr
	}
	return handle, stat.Size(), nil
}
