// Package s3 implements the provider interface for AWS S3 and S3-compatible
// storage. clipqueue uses it to fetch s3:// inputs and publish artifacts.
package s3

import "strings"

// Config configures an S3 provider.
//
// Credentials come from the AWS SDK v2 default chain (environment, shared
// config/credentials with Profile, instance roles) unless AccessKeyID and
// SecretAccessKey are both set.
//
// For S3-compatible stores set Endpoint and usually ForcePathStyle. No
// default region is applied when Endpoint is set.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when neither
	// the environment nor the profile names one.
	Region string

	// Endpoint is a custom endpoint URL, e.g. http://localhost:9000.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool

	// MaxKeys is the List page size. Zero means 1000; larger values are clamped.
	MaxKeys int

	// ContentType is set on uploaded artifacts when non-empty.
	ContentType string
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// ContentTypeFor returns the MIME type published for a video artifact name.
func ContentTypeFor(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(lower, ".webm"):
		return "video/webm"
	case strings.HasSuffix(lower, ".mkv"):
		return "video/x-matroska"
	case strings.HasSuffix(lower, ".avi"):
		return "video/x-msvideo"
	}
	return "application/octet-stream"
}
