// Package s3 provides an S3-compatible implementation of the datastore
// backend. Every entry is a JSON object stored under
// <prefix><collection>/<escaped key>.json in a single bucket.
//
// S3 offers neither atomic counters nor conditional locks across all
// compatible servers, so this backend does not generate identifiers and does
// not support pessimistic locking. Entities stored here must carry their own
// identifiers.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// ErrBucketRequired is returned by New when no bucket is configured.
var ErrBucketRequired = errors.New("datastore/s3: bucket is required")

const (
	contentTypeJSON  = "application/json"
	fetchConcurrency = 8
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ Client = (*s3.Client)(nil)

// Config holds construction parameters. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string `json:"bucket"            mapstructure:"bucket"`
	Prefix          string `json:"prefix"            mapstructure:"prefix"`
	Region          string `json:"region"            mapstructure:"region"`
	Endpoint        string `json:"endpoint"          mapstructure:"endpoint"`
	AccessKeyID     string `json:"access_key_id"     mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string `json:"session_token"     mapstructure:"session_token"`
	PathStyle       bool   `json:"path_style"        mapstructure:"path_style"`
}

// Store is an S3 implementation of the datastore backend.
type Store struct {
	client Client
	bucket string
	prefix string
}

// New creates a store from cfg using the AWS SDK default configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("datastore/s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates a store over an existing client.
func NewWithClient(client Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Migrate verifies the bucket is reachable. Buckets are not created.
func (s *Store) Migrate(ctx context.Context) error {
	return s.Ping(ctx)
}

// Ping checks that the bucket exists and is accessible.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("datastore/s3: head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no closable resources.
func (s *Store) Close() error { return nil }

func (s *Store) collectionPrefix(collection string) string {
	return s.prefix + url.PathEscape(collection) + "/"
}

func (s *Store) objectKey(collection, key string) string {
	return s.collectionPrefix(collection) + url.PathEscape(key) + ".json"
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

// ──────────────────────────────────────────────────
// Entry operations
// ──────────────────────────────────────────────────

func (s *Store) exists(ctx context.Context, collection, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(collection, key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("datastore/s3: head object: %w", err)
}

func (s *Store) put(ctx context.Context, collection, key string, entry mapping.Entry) error {
	data, err := store.EncodeEntry(entry)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(collection, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeJSON),
	})
	if err != nil {
		return fmt.Errorf("datastore/s3: put object: %w", err)
	}
	return nil
}

// InsertEntry emulates create-only semantics with a HEAD before the PUT.
func (s *Store) InsertEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	ok, err := s.exists(ctx, collection, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrDuplicateKey)
	}
	return s.put(ctx, collection, key, entry)
}

func (s *Store) UpdateEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	ok, err := s.exists(ctx, collection, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
	}
	return s.put(ctx, collection, key, entry)
}

func (s *Store) getObject(ctx context.Context, objectKey string) (mapping.Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("datastore/s3: read object: %w", err)
	}
	return store.DecodeEntry(data)
}

func (s *Store) GetEntry(ctx context.Context, collection, key string) (mapping.Entry, error) {
	e, err := s.getObject(ctx, s.objectKey(collection, key))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
		}
		return nil, fmt.Errorf("datastore/s3: get entry: %w", err)
	}
	return e, nil
}

// GetEntries fetches the objects concurrently.
func (s *Store) GetEntries(ctx context.Context, collection string, keys []string) (map[string]mapping.Entry, error) {
	found := make([]mapping.Entry, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, k := range keys {
		g.Go(func() error {
			e, err := s.GetEntry(gctx, collection, k)
			if errors.Is(err, persister.ErrEntryNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]mapping.Entry, len(keys))
	for i, e := range found {
		if e != nil {
			out[keys[i]] = e
		}
	}
	return out, nil
}

func (s *Store) DeleteEntries(ctx context.Context, collection string, keys []string) error {
	for _, k := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(collection, k)),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("datastore/s3: delete entry %s/%s: %w", collection, k, err)
		}
	}
	return nil
}

// ListEntries reads every object under the collection prefix in key order
// and applies c in memory.
func (s *Store) ListEntries(ctx context.Context, collection string, c persister.Criteria) ([]mapping.Entry, error) {
	prefix := s.collectionPrefix(collection)
	var entries []mapping.Entry
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("datastore/s3: list objects: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			e, err := s.getObject(ctx, key)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("datastore/s3: list entries: %w", err)
			}
			entries = append(entries, e)
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return persister.ApplyCriteria(entries, c), nil
}
