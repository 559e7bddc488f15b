// Package cloud implements shelf.RemoteService against real and in-memory
// object stores, and the token sources that authorize them.
package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"shelf-go/internal/shelf"
)

// S3Options configures an S3Service.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for S3-compatible stores; uses path-style addressing
	Prefix   string // key prefix treated as the root folder
	PageSize int32
}

// S3Service maps the folder API onto an S3 bucket. Folder ids are key
// prefixes ending in "/", file ids are object keys, and an object's ETag is
// its change token. Folders are materialized with an empty marker object.
type S3Service struct {
	opts  S3Options
	base  aws.Config
	clock shelf.Clock

	mu       sync.RWMutex
	client   *s3.Client
	uploader *manager.Uploader
}

var _ shelf.RemoteService = (*S3Service)(nil)

// NewS3Service loads the shared AWS configuration for the region. No
// request can be made until Authorize installs a token.
func NewS3Service(ctx context.Context, opts S3Options, clock shelf.Clock) (*S3Service, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	base, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	opts.Prefix = normalizePrefix(opts.Prefix)
	return &S3Service{opts: opts, base: base, clock: clock}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Bucket returns the configured bucket name.
func (s *S3Service) Bucket() string {
	return s.opts.Bucket
}

// Authorize rebuilds the client around tok. The SDK caches credentials
// per client, so a fresh client is the only way to switch tokens.
func (s *S3Service) Authorize(tok shelf.Token) {
	provider := credentials.NewStaticCredentialsProvider(tok.AccessKey, tok.Secret, tok.SessionToken)
	client := s3.NewFromConfig(s.base, func(o *s3.Options) {
		o.Credentials = provider
		if s.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.uploader = manager.NewUploader(client)
}

func (s *S3Service) handles() (*s3.Client, *manager.Uploader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, nil, shelf.ErrNotConnected
	}
	return s.client, s.uploader, nil
}

func (s *S3Service) folderKey(parentID, name string) string {
	if parentID == "" {
		parentID = s.opts.Prefix
	}
	return parentID + name + "/"
}

func (s *S3Service) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	client, _, err := s.handles()
	if err != nil {
		return "", false, err
	}
	key := s.folderKey(parentID, name)
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", false, fmt.Errorf("looking up folder %s: %w", key, err)
	}
	return key, len(out.Contents) > 0, nil
}

func (s *S3Service) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	client, _, err := s.handles()
	if err != nil {
		return "", err
	}
	key := s.folderKey(parentID, name)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("creating folder %s: %w", key, err)
	}
	return key, nil
}

func (s *S3Service) ListFiles(ctx context.Context, folderID, pageToken string) (*shelf.FilePage, error) {
	client, _, err := s.handles()
	if err != nil {
		return nil, err
	}
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.opts.Bucket),
		Prefix:    aws.String(folderID),
		Delimiter: aws.String("/"),
	}
	if s.opts.PageSize > 0 {
		in.MaxKeys = aws.Int32(s.opts.PageSize)
	}
	if pageToken != "" {
		in.ContinuationToken = aws.String(pageToken)
	}

	out, err := client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folderID, err)
	}

	page := &shelf.FilePage{}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == folderID {
			continue
		}
		page.Files = append(page.Files, shelf.RemoteFile{
			ID:          key,
			Name:        strings.TrimPrefix(key, folderID),
			ChangeToken: strings.Trim(aws.ToString(obj.ETag), `"`),
			Size:        aws.ToInt64(obj.Size),
			ModifiedAt:  aws.ToTime(obj.LastModified),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3Service) FindFile(ctx context.Context, folderID, name string) (*shelf.RemoteFile, error) {
	client, _, err := s.handles()
	if err != nil {
		return nil, err
	}
	key := folderID + name
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, shelf.ErrNotFound
		}
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}
	return &shelf.RemoteFile{
		ID:          key,
		Name:        name,
		ChangeToken: strings.Trim(aws.ToString(out.ETag), `"`),
		Size:        aws.ToInt64(out.ContentLength),
		ModifiedAt:  aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Service) GetFile(ctx context.Context, fileID string) ([]byte, error) {
	client, _, err := s.handles()
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, shelf.ErrNotFound
		}
		return nil, fmt.Errorf("downloading %s: %w", fileID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, err)
	}
	return data, nil
}

func (s *S3Service) PutFile(ctx context.Context, folderID, name string, content []byte) (*shelf.RemoteFile, error) {
	_, uploader, err := s.handles()
	if err != nil {
		return nil, err
	}
	key := folderID + name
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", key, err)
	}
	return &shelf.RemoteFile{
		ID:          key,
		Name:        name,
		ChangeToken: strings.Trim(aws.ToString(out.ETag), `"`),
		Size:        int64(len(content)),
		ModifiedAt:  s.clock.Now(),
	}, nil
}

func (s *S3Service) DeleteFile(ctx context.Context, fileID string) error {
	client, _, err := s.handles()
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", fileID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
