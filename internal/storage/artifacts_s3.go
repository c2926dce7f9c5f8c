package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/frederic-klein/llamapkg/internal/fetch"
)

// S3API is the subset of *s3.Client used by S3Artifacts.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config configures the S3 artifact backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// NewS3Client builds a client from static configuration. A custom
// endpoint switches to path-style addressing for S3-compatible servers.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				Source:          "llamapkg-config",
			}, nil
		}),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// S3Artifacts stores artifacts as objects <prefix><name>/<version>/<file>.
type S3Artifacts struct {
	client S3API
	bucket string
	prefix string
	getter fetch.Getter
}

// NewS3Artifacts creates an S3 artifact store. getter handles http(s)
// locators and may be nil.
func NewS3Artifacts(client S3API, bucket, prefix string, getter fetch.Getter) *S3Artifacts {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Artifacts{client: client, bucket: bucket, prefix: prefix, getter: getter}
}

func (s *S3Artifacts) key(name, version, filename string) string {
	return s.prefix + path.Join(name, version, filename)
}

// Upload hashes the artifact and puts it into the bucket.
func (s *S3Artifacts) Upload(ctx context.Context, name, version, artifactPath string) (Upload, error) {
	sum, err := HashFile(artifactPath)
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}
	defer f.Close()

	key := s.key(name, version, filepath.Base(artifactPath))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"package": name,
			"version": version,
			"sha256":  sum,
		},
	})
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: fmt.Errorf("s3 put %s: %w", key, err)}
	}

	return Upload{Locator: "s3://" + s.bucket + "/" + key, SHA256: sum}, nil
}

// Download writes an s3:// object into destDir; other schemes fall back to
// the shared file/http handling.
func (s *S3Artifacts) Download(ctx context.Context, name, version, locator, destDir string) (string, error) {
	if locator == "" {
		return "", &Error{Op: "download", Name: name, Version: version, Err: errors.New("no download locator")}
	}
	if !isScheme(locator, "s3") {
		p, err := fetchLocator(ctx, s.getter, locator, destDir)
		if err != nil {
			return "", &Error{Op: "download", Name: name, Version: version, Err: err}
		}
		return p, nil
	}
	if destDir == "" {
		return "", &Error{Op: "download", Name: name, Version: version, Err: fmt.Errorf("destination required for %s", locator)}
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", &Error{Op: "download", Name: name, Version: version, Err: err}
	}
	key := strings.TrimPrefix(u.Path, "/")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &Error{Op: "download", Name: name, Version: version, Err: fmt.Errorf("s3 get %s: %w", key, err)}
	}
	defer out.Body.Close()

	dest := filepath.Join(destDir, path.Base(key))
	if _, err := writeAtomic(dest, out.Body); err != nil {
		return "", &Error{Op: "download", Name: name, Version: version, Err: err}
	}
	return dest, nil
}

// InstalledVersions lists the version "directories" under <prefix><name>/.
func (s *S3Artifacts) InstalledVersions(ctx context.Context, name string) ([]string, error) {
	prefix := s.prefix + name + "/"
	var (
		versions []string
		token    *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &Error{Op: "installed_versions", Name: name, Err: err}
		}
		for _, cp := range out.CommonPrefixes {
			v := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if v != "" {
				versions = append(versions, v)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(versions)
	return versions, nil
}
