package biz

import (
	"context"
	"io"
	"time"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
)

// Outcome is the verdict of one atomic metadata script
type Outcome string

const (
	OutcomeExists   Outcome = "exists"   // file:<id> already present
	OutcomeBusy     Outcome = "busy"     // a live retirement claim holds fh:<digest>
	OutcomeHit      Outcome = "hit"      // reference taken on existing content
	OutcomeMiss     Outcome = "miss"     // no content record, caller must write
	OutcomeCreated  Outcome = "created"  // content record created with cnt=1
	OutcomeNotFound Outcome = "notfound" // file:<id> gone or points elsewhere
	OutcomeOrphan   Outcome = "orphan"   // file:<id> without fh:<digest>
	OutcomeCorrupt  Outcome = "corrupt"  // cnt < 1
	OutcomeReleased Outcome = "released" // cnt decremented, upload record removed
	OutcomeClaimed  Outcome = "claimed"  // caller owns removal of the last copy
	OutcomeRetired  Outcome = "retired"  // both records removed after physical removal
	OutcomeLost     Outcome = "lost"     // claim expired and was taken over
)

// ScriptResult 元数据脚本返回值
type ScriptResult struct {
	Outcome  Outcome
	Path     string // content path for hit, created and claimed
	RefCount int64
}

// MetadataRepo 元数据仓储接口，每个方法是一次原子操作
type MetadataRepo interface {
	// Acquire takes a reference on existing content for id, or reports a miss.
	Acquire(ctx context.Context, id, digest string, now time.Time) (*ScriptResult, error)
	// Commit records a freshly written blob at path, or takes a reference if
	// another writer won the race.
	Commit(ctx context.Context, id, digest, path string, size int64, now time.Time) (*ScriptResult, error)
	// Release drops one reference, or claims the last one under token until leaseUntil.
	Release(ctx context.Context, id, digest, token string, now, leaseUntil time.Time) (*ScriptResult, error)
	// Finalize removes both records once the claimed blob is gone.
	Finalize(ctx context.Context, id, digest, token string) (*ScriptResult, error)
	// Abort drops a claim whose blob could not be removed.
	Abort(ctx context.Context, digest, token string) error

	GetUpload(ctx context.Context, id string) (*models.UploadRecord, error)
	GetContent(ctx context.Context, digest string) (*models.ContentRecord, error)
	// Snapshot reads file:<id> and its fh:<digest> consistently. The content
	// record is nil when missing.
	Snapshot(ctx context.Context, id string) (*models.UploadRecord, *models.ContentRecord, error)

	// ScanContents and ScanUploads visit every record; parseErr is set (and
	// the record nil) when the stored fields are malformed.
	ScanContents(ctx context.Context, fn func(key string, rec *models.ContentRecord, parseErr error) error) error
	ScanUploads(ctx context.Context, fn func(key string, rec *models.UploadRecord, parseErr error) error) error

	Ping(ctx context.Context) error
}

// BlobStore 物理文件存储接口，路径均为相对于存储根的 slash 路径
type BlobStore interface {
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	// Open returns a forward-only stream and its size. Missing blobs wrap ErrBlobNotFound.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	// Remove is idempotent: a missing blob is not an error.
	Remove(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}
