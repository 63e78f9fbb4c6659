// Package blob is the S3-compatible object storage client: signed-URL
// issuance, streamed download, single-file upload, and a non-recursive
// directory-sweep upload for per-item output directories.
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediaworker/pkg/mediaerr"
)

// Options configures the Client.
type Options struct {
	Region          string
	Endpoint        string
	Bucket          string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Client wraps an S3 client, presign client, and uploader around a fixed
// bucket and public endpoint.
type Client struct {
	s3       *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	endpoint string
}

func New(ctx context.Context, opts Options) (*Client, error) {
	lo := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		lo = append(lo, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		lo = append(lo, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, lo...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &Client{
		s3:       client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
	}, nil
}

// SignedRead issues a presigned GET URL for key, valid for ttl (default
// 3600s if zero).
func (c *Client) SignedRead(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// DownloadToFile streams the body at url to localPath, creating parent
// directories as needed. Network/timeout failures are TransientIO; any
// other non-2xx response is a plain error.
func (c *Client) DownloadToFile(ctx context.Context, url, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &mediaerr.TransientIO{Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("download %s: bad response %d", url, resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return &mediaerr.TransientIO{Op: "download", Err: err}
	}
	return nil
}

// UploadFile PUTs localPath to key and returns the canonical public URL
// <endpoint>/<key>, never the bucket-doubled form.
func (c *Client) UploadFile(ctx context.Context, localPath, key string) (string, error) {
	if err := c.uploadOne(ctx, localPath, key); err != nil {
		return "", err
	}
	return c.publicURL(key), nil
}

// UploadedFile describes one file produced by UploadDirectory.
type UploadedFile struct {
	OriginalName string
	S3Key        string
	URL          string
}

// UploadDirectory uploads only the immediate children of localDir (no
// recursive descent; per-item output directories are always flat),
// each as <destPrefix>/<filename>, and returns them in directory order.
func (c *Client) UploadDirectory(ctx context.Context, localDir, destPrefix string) ([]UploadedFile, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", localDir, err)
	}

	var out []UploadedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		key := joinKey(destPrefix, name)
		localPath := filepath.Join(localDir, name)
		if err := c.uploadOne(ctx, localPath, key); err != nil {
			return nil, err
		}
		out = append(out, UploadedFile{OriginalName: name, S3Key: key, URL: c.publicURL(key)})
	}
	return out, nil
}

func (c *Client) uploadOne(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	})
	if err != nil {
		return &mediaerr.TransientIO{Op: "upload", Err: fmt.Errorf("put %s to s3://%s/%s: %w", localPath, c.bucket, key, err)}
	}
	return nil
}

func (c *Client) publicURL(key string) string {
	return c.endpoint + "/" + strings.TrimLeft(key, "/")
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func detectContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
