package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/workerpool"
	"go.uber.org/zap"
)

// Audit issue kinds
const (
	IssueMissingBlob      = "missing_blob"      // fh:<digest> points at a path that does not exist
	IssueBlobCheckFailed  = "blob_check_failed" // storage could not answer
	IssueZeroRefCount     = "zero_refcount"     // cnt < 1
	IssueRefCountMismatch = "refcount_mismatch" // cnt differs from the number of file:<id> records
	IssueDanglingUpload   = "dangling_upload"   // file:<id> without fh:<digest>
	IssuePathMismatch     = "path_mismatch"     // file:<id>.fp differs from fh:<digest>.fp
	IssueMalformedRecord  = "malformed_record"
)

// AuditIssue 一条不一致记录
type AuditIssue struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
}

// AuditReport 审计报告
type AuditReport struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Contents   int          `json:"contents"`
	Uploads    int          `json:"uploads"`
	Claimed    int          `json:"claimed"`
	Issues     []AuditIssue `json:"issues"`
}

// Consistent reports whether the audit found nothing
func (r *AuditReport) Consistent() bool {
	return len(r.Issues) == 0
}

// Auditor cross-checks metadata against storage. It only reads; repairs are
// left to an operator. Writes racing with the scan can show up as transient
// refcount mismatches.
type Auditor struct {
	repo   MetadataRepo
	blobs  BlobStore
	pool   *workerpool.Pool
	logger *logger.Logger
	now    func() time.Time
}

// NewAuditor 创建审计器，blob 存在性检查在 pool 中并发执行
func NewAuditor(repo MetadataRepo, blobs BlobStore, pool *workerpool.Pool, log *logger.Logger) *Auditor {
	return &Auditor{
		repo:   repo,
		blobs:  blobs,
		pool:   pool,
		logger: log.Named("audit"),
		now:    time.Now,
	}
}

type issueSink struct {
	mu     sync.Mutex
	issues []AuditIssue
}

func (s *issueSink) add(kind, key, detail string) {
	s.mu.Lock()
	s.issues = append(s.issues, AuditIssue{Kind: kind, Key: key, Detail: detail})
	s.mu.Unlock()
}

// Run scans fh:* then file:* and returns the report
func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{StartedAt: a.now()}
	sink := &issueSink{}
	contents := make(map[string]*models.ContentRecord)
	var wg sync.WaitGroup

	err := a.repo.ScanContents(ctx, func(key string, rec *models.ContentRecord, parseErr error) error {
		report.Contents++
		if parseErr != nil {
			sink.add(IssueMalformedRecord, key, parseErr.Error())
			return nil
		}
		contents[rec.Hash] = rec

		if rec.Claimed(report.StartedAt) {
			report.Claimed++
		}
		if rec.RefCount < 1 {
			sink.add(IssueZeroRefCount, key, fmt.Sprintf("cnt=%d", rec.RefCount))
		}

		wg.Add(1)
		path := rec.Path
		if err := a.pool.Submit(func() {
			defer wg.Done()
			ok, err := a.blobs.Exists(ctx, path)
			switch {
			case err != nil:
				sink.add(IssueBlobCheckFailed, key, err.Error())
			case !ok:
				sink.add(IssueMissingBlob, key, path)
			}
		}); err != nil {
			wg.Done()
			return err
		}
		return nil
	})
	if err != nil {
		wg.Wait()
		return nil, fmt.Errorf("scan content records: %w", err)
	}

	refs := make(map[string]int64, len(contents))
	err = a.repo.ScanUploads(ctx, func(key string, rec *models.UploadRecord, parseErr error) error {
		report.Uploads++
		if parseErr != nil {
			sink.add(IssueMalformedRecord, key, parseErr.Error())
			return nil
		}

		content, ok := contents[rec.Hash]
		if !ok {
			sink.add(IssueDanglingUpload, key, models.ContentKey(rec.Hash))
			return nil
		}
		refs[rec.Hash]++
		if content.Path != rec.Path {
			sink.add(IssuePathMismatch, key, fmt.Sprintf("%s != %s", rec.Path, content.Path))
		}
		return nil
	})
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("scan upload records: %w", err)
	}

	for digest, content := range contents {
		if content.RefCount >= 1 && refs[digest] != content.RefCount {
			sink.add(IssueRefCountMismatch, models.ContentKey(digest),
				fmt.Sprintf("cnt=%d uploads=%d", content.RefCount, refs[digest]))
		}
	}

	report.Issues = sink.issues
	if report.Issues == nil {
		report.Issues = []AuditIssue{}
	}
	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Kind != report.Issues[j].Kind {
			return report.Issues[i].Kind < report.Issues[j].Kind
		}
		return report.Issues[i].Key < report.Issues[j].Key
	})
	report.FinishedAt = a.now()

	a.logger.Info("audit finished",
		zap.Int("contents", report.Contents),
		zap.Int("uploads", report.Uploads),
		zap.Int("issues", len(report.Issues)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}
