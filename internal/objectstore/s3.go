// Package objectstore wraps the S3-compatible object store used for product
// imagery: idempotent keying, existence checks, and JPEG uploads.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Credentials is the JSON file format the core reads to authenticate
// against the object store.
type Credentials struct {
	AccessKey  string `json:"accessKey"`
	SecretKey  string `json:"secretKey"`
	BucketName string `json:"bucketName"`
	Region     string `json:"region"`
}

// LoadCredentials reads a Credentials file from path.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read s3 credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse s3 credentials: %w", err)
	}
	return &c, nil
}

// Store is a thin, idempotent-keying wrapper around an S3 client.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from Credentials.
func New(ctx context.Context, creds *Credentials) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: creds.BucketName}, nil
}

// ImageKey is the pure function of (site, productID, index) that names a
// product image object. Two runs produce identical keys for the same input.
func ImageKey(site, productID string, index int) string {
	return fmt.Sprintf("%s/%s/%s-%d.jpg", site, productID, productID, index)
}

// ThumbnailKey names a product's single thumbnail object.
func ThumbnailKey(site, productID string) string {
	return fmt.Sprintf("%s/%s/%s-thumb.jpg", site, productID, productID)
}

// Exists HEAD-checks key, used to skip re-uploading already-stored images.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// PutJPEG uploads body at key with the JPEG content type and returns the
// object's public URL.
func (s *Store) PutJPEG(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the object's public HTTPS URL for the configured bucket; the
// region is not part of the URL.
func (s *Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}
