package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Redis key prefixes
const (
	UploadKeyPrefix  = "file:"
	ContentKeyPrefix = "fh:"
)

// Hash fields of file:<id>
const (
	FieldTimestamp = "ts"
	FieldHash      = "fh"
	FieldPath      = "fp"
)

// Hash fields of fh:<digest>. rl/rt only exist while the last reference is being retired.
const (
	FieldCount      = "cnt"
	FieldSize       = "sz"
	FieldLeaseUntil = "rl"
	FieldLeaseToken = "rt"
)

// UnknownSize marks content records written without a size field
const UnknownSize int64 = -1

var ErrMalformedRecord = errors.New("malformed metadata record")

// UploadKey returns the metadata key of a logical upload
func UploadKey(id string) string {
	return UploadKeyPrefix + id
}

// ContentKey returns the metadata key of a piece of content
func ContentKey(digest string) string {
	return ContentKeyPrefix + digest
}

// BlobPath returns the relative storage path for one physical write of digest.
// The logical id makes every write unique, so concurrent writers never share a file.
func BlobPath(digest, id string) string {
	if len(digest) < 4 {
		return digest + "/" + id
	}
	return digest[0:2] + "/" + digest[2:4] + "/" + digest + "/" + id
}

// UploadRecord 逻辑上传记录 file:<id>
type UploadRecord struct {
	ID        string
	Hash      string
	Path      string
	CreatedAt time.Time
}

// ContentRecord 内容记录 fh:<digest>
type ContentRecord struct {
	Hash       string
	Path       string
	RefCount   int64
	Size       int64
	LeaseUntil time.Time // zero when no retirement claim is held
	LeaseToken string
}

// Claimed reports whether a retirement claim is live at now
func (c *ContentRecord) Claimed(now time.Time) bool {
	return c.LeaseToken != "" && c.LeaseUntil.After(now)
}

// ParseUploadRecord builds an UploadRecord from the fields of file:<id>
func ParseUploadRecord(id string, fields map[string]string) (*UploadRecord, error) {
	hash, path := fields[FieldHash], fields[FieldPath]
	if hash == "" || path == "" {
		return nil, fmt.Errorf("%w: %s missing %s or %s", ErrMalformedRecord, UploadKey(id), FieldHash, FieldPath)
	}

	rec := &UploadRecord{ID: id, Hash: hash, Path: path}
	if ts := fields[FieldTimestamp]; ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s has bad %s %q", ErrMalformedRecord, UploadKey(id), FieldTimestamp, ts)
		}
		rec.CreatedAt = time.Unix(sec, 0)
	}
	return rec, nil
}

// ParseContentRecord builds a ContentRecord from the fields of fh:<digest>
func ParseContentRecord(digest string, fields map[string]string) (*ContentRecord, error) {
	path := fields[FieldPath]
	if path == "" {
		return nil, fmt.Errorf("%w: %s missing %s", ErrMalformedRecord, ContentKey(digest), FieldPath)
	}

	cnt, err := strconv.ParseInt(fields[FieldCount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has bad %s %q", ErrMalformedRecord, ContentKey(digest), FieldCount, fields[FieldCount])
	}

	rec := &ContentRecord{
		Hash:       digest,
		Path:       path,
		RefCount:   cnt,
		Size:       UnknownSize,
		LeaseToken: fields[FieldLeaseToken],
	}

	if sz := fields[FieldSize]; sz != "" {
		if rec.Size, err = strconv.ParseInt(sz, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %s has bad %s %q", ErrMalformedRecord, ContentKey(digest), FieldSize, sz)
		}
	}

	if rl := fields[FieldLeaseUntil]; rl != "" {
		ms, err := strconv.ParseInt(rl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s has bad %s %q", ErrMalformedRecord, ContentKey(digest), FieldLeaseUntil, rl)
		}
		rec.LeaseUntil = time.UnixMilli(ms)
	}

	return rec, nil
}
