package minio

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	// bucketNameRegex validates bucket names according to AWS S3 rules
	bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-.]{1,61}[a-z0-9]$`)

	invalidBucketNamePrefixes = []string{"xn--", "sthree-"}
	invalidBucketNameSuffixes = []string{"-s3alias", "--ol-s3"}
)

// ValidateBucketName validates a bucket name according to AWS S3 naming rules
func ValidateBucketName(bucketName string) error {
	if bucketName == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}

	if len(bucketName) < 3 || len(bucketName) > 63 {
		return fmt.Errorf("bucket name must be between 3 and 63 characters long")
	}

	if !bucketNameRegex.MatchString(bucketName) {
		return fmt.Errorf("bucket name must start and end with a lowercase letter or number, and can only contain lowercase letters, numbers, dots and hyphens")
	}

	for _, prefix := range invalidBucketNamePrefixes {
		if strings.HasPrefix(bucketName, prefix) {
			return fmt.Errorf("bucket name cannot start with '%s'", prefix)
		}
	}

	for _, suffix := range invalidBucketNameSuffixes {
		if strings.HasSuffix(bucketName, suffix) {
			return fmt.Errorf("bucket name cannot end with '%s'", suffix)
		}
	}

	if strings.Contains(bucketName, "..") {
		return fmt.Errorf("bucket name cannot contain consecutive dots")
	}

	if ip := net.ParseIP(bucketName); ip != nil && ip.To4() != nil {
		return fmt.Errorf("bucket name cannot be formatted as an IP address")
	}

	return nil
}

// ValidateObjectName validates an object name
func ValidateObjectName(objectName string) error {
	if objectName == "" {
		return fmt.Errorf("object name cannot be empty")
	}

	// S3 allows up to 1024 bytes
	if len(objectName) > 1024 {
		return fmt.Errorf("object name cannot exceed 1024 characters")
	}

	if strings.Contains(objectName, "\x00") {
		return fmt.Errorf("object name cannot contain null bytes")
	}

	return nil
}
