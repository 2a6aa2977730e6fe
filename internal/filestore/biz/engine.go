package biz

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/metrics"
	"go.uber.org/zap"
)

// EngineConfig 去重引擎参数
type EngineConfig struct {
	BusyRetries    int           // retries while a digest is claimed for retirement
	BusyBackoff    time.Duration // base wait between those retries
	RetireLease    time.Duration // how long a retirement claim stays exclusive
	CleanupTimeout time.Duration // budget for cleanup that must outlive the request
}

// DefaultEngineConfig 默认参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BusyRetries:    20,
		BusyBackoff:    50 * time.Millisecond,
		RetireLease:    30 * time.Second,
		CleanupTimeout: 10 * time.Second,
	}
}

// Upload 一次成功上传的结果
type Upload struct {
	ID           string
	Hash         string
	Path         string
	Size         int64
	CreatedAt    time.Time
	Deduplicated bool  // content already existed, no bytes were kept from this upload
	RefCount     int64 // references to the content right after this upload
}

// FileInfo 只读元数据视图
type FileInfo struct {
	ID        string
	Hash      string
	Size      int64 // models.UnknownSize for records that predate size tracking
	CreatedAt time.Time
	RefCount  int64
}

// Engine 内容寻址去重引擎。没有全局锁，竞争只发生在同一个 digest 上。
type Engine struct {
	repo   MetadataRepo
	blobs  BlobStore
	hasher *Hasher
	config EngineConfig
	logger *logger.Logger

	now      func() time.Time
	newToken func() string
}

// NewEngine 创建去重引擎
func NewEngine(repo MetadataRepo, blobs BlobStore, hasher *Hasher, config EngineConfig, log *logger.Logger) *Engine {
	return &Engine{
		repo:     repo,
		blobs:    blobs,
		hasher:   hasher,
		config:   config,
		logger:   log.Named("filestore"),
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Ingest stores content under the logical id. Identical content is kept once;
// each call that succeeds adds exactly one reference.
func (e *Engine) Ingest(ctx context.Context, id string, content io.ReadSeeker) (*Upload, error) {
	const op = "ingest"

	if err := ValidateID(id); err != nil {
		return nil, storageErr(op, id, ErrInvalidID, nil)
	}

	digest, size, err := e.hasher.Sum(content)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, storageErr(op, id, ErrIO, err)
	}

	ctx = logger.WithFileID(ctx, id)
	log := e.logger.WithContext(ctx).With(zap.String("digest", digest))
	now := e.now()

	res, err := e.retryBusy(ctx, op, id, func() (*ScriptResult, error) {
		sctx, cancel := e.detached(ctx)
		defer cancel()
		return e.repo.Acquire(sctx, id, digest, now)
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, err
	}

	switch res.Outcome {
	case OutcomeHit:
		metrics.UploadsTotal.WithLabelValues(metrics.UploadDeduplicated).Inc()
		log.Debug("content deduplicated", zap.Int64("ref_count", res.RefCount))
		return e.upload(id, digest, res, size, now, true), nil
	case OutcomeMiss:
	default:
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, e.unexpected(op, id, res.Outcome)
	}

	path := models.BlobPath(digest, id)
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, storageErr(op, id, ErrIO, err)
	}

	written, err := e.blobs.Write(ctx, path, content)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		log.Error("blob write failed", zap.String("path", path), zap.Error(err))
		e.discard(ctx, path)
		return nil, storageErr(op, id, ErrWriteFailed, err)
	}

	res, err = e.retryBusy(ctx, op, id, func() (*ScriptResult, error) {
		sctx, cancel := e.detached(ctx)
		defer cancel()
		return e.repo.Commit(sctx, id, digest, path, written, now)
	})
	if errors.Is(err, ErrMetadataUnavailable) {
		// The script may have run before the reply was lost.
		if res, ok := e.settleCommit(ctx, id, digest, path); ok {
			metrics.UploadsTotal.WithLabelValues(metrics.UploadCreated).Inc()
			metrics.BytesWrittenTotal.Add(float64(written))
			log.Warn("commit reply lost, upload was recorded", zap.Error(err))
			return e.upload(id, digest, res, written, now, false), nil
		}
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, err
	}
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		e.discard(ctx, path)
		return nil, err
	}

	switch res.Outcome {
	case OutcomeCreated:
		metrics.UploadsTotal.WithLabelValues(metrics.UploadCreated).Inc()
		metrics.BytesWrittenTotal.Add(float64(written))
		log.Debug("content stored", zap.String("path", path), zap.Int64("size", written))
		return e.upload(id, digest, res, written, now, false), nil
	case OutcomeHit:
		// A concurrent ingest committed the same digest first; our copy is unreferenced.
		e.discard(ctx, path)
		metrics.UploadsTotal.WithLabelValues(metrics.UploadDeduplicated).Inc()
		log.Debug("content deduplicated after write", zap.Int64("ref_count", res.RefCount))
		return e.upload(id, digest, res, written, now, true), nil
	default:
		e.discard(ctx, path)
		metrics.UploadsTotal.WithLabelValues(metrics.UploadFailed).Inc()
		return nil, e.unexpected(op, id, res.Outcome)
	}
}

// Resolve returns the upload record of id
func (e *Engine) Resolve(ctx context.Context, id string) (*models.UploadRecord, error) {
	const op = "resolve"

	if ValidateID(id) != nil {
		return nil, storageErr(op, id, ErrNotFound, nil)
	}

	rec, err := e.repo.GetUpload(ctx, id)
	if err != nil {
		return nil, e.repoErr(op, id, err)
	}
	return rec, nil
}

// Open resolves id and opens its content for streaming. The caller closes the reader.
func (e *Engine) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	const op = "open"

	rec, err := e.Resolve(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	rc, size, err := e.blobs.Open(ctx, rec.Path)
	switch {
	case err == nil:
		return rc, size, nil
	case errors.Is(err, ErrBlobNotFound):
		e.logger.WithContext(logger.WithFileID(ctx, id)).Error("referenced blob is missing",
			zap.String("digest", rec.Hash),
			zap.String("path", rec.Path),
		)
		return nil, 0, storageErr(op, id, ErrInconsistentState, err)
	default:
		return nil, 0, storageErr(op, id, ErrIO, err)
	}
}

// Stat returns the metadata view of id
func (e *Engine) Stat(ctx context.Context, id string) (*FileInfo, error) {
	const op = "stat"

	if ValidateID(id) != nil {
		return nil, storageErr(op, id, ErrNotFound, nil)
	}

	up, content, err := e.repo.Snapshot(ctx, id)
	if err != nil {
		return nil, e.repoErr(op, id, err)
	}
	if content == nil {
		return nil, storageErr(op, id, ErrInconsistentState, errors.New("content record missing"))
	}

	return &FileInfo{
		ID:        up.ID,
		Hash:      up.Hash,
		Size:      content.Size,
		CreatedAt: up.CreatedAt,
		RefCount:  content.RefCount,
	}, nil
}

// Retire removes the logical id. The physical copy is removed exactly once,
// by the caller that claims the last reference.
func (e *Engine) Retire(ctx context.Context, id string) error {
	const op = "retire"

	rec, err := e.Resolve(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		}
		return err
	}

	ctx = logger.WithFileID(ctx, id)
	log := e.logger.WithContext(ctx).With(zap.String("digest", rec.Hash))
	token := e.newToken()

	var leaseUntil time.Time
	res, err := e.retryBusy(ctx, op, id, func() (*ScriptResult, error) {
		sctx, cancel := e.detached(ctx)
		defer cancel()
		now := e.now()
		leaseUntil = now.Add(e.config.RetireLease)
		return e.repo.Release(sctx, id, rec.Hash, token, now, leaseUntil)
	})
	if err != nil {
		metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		if errors.Is(err, ErrMetadataUnavailable) {
			// A claim taken by a lost reply would block the digest until the lease ends.
			e.abortClaim(ctx, rec.Hash, token)
		}
		return err
	}

	switch res.Outcome {
	case OutcomeReleased:
		metrics.RetiresTotal.WithLabelValues(metrics.RetireReleased).Inc()
		log.Debug("reference released", zap.Int64("ref_count", res.RefCount))
		return nil
	case OutcomeClaimed:
	case OutcomeNotFound:
		return storageErr(op, id, ErrNotFound, nil)
	default:
		metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		log.Error("cannot retire file", zap.String("outcome", string(res.Outcome)))
		return storageErr(op, id, ErrInconsistentState, errors.New(string(res.Outcome)))
	}

	// The claim is ours. Finish even if the request goes away, but never
	// remove the blob after the claim could have been taken over.
	deadline := e.now().Add(e.config.CleanupTimeout)
	if leaseUntil.Before(deadline) {
		deadline = leaseUntil
	}
	rctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	if err := e.blobs.Remove(rctx, res.Path); err != nil {
		metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		log.Error("blob remove failed", zap.String("path", res.Path), zap.Error(err))
		e.abortClaim(ctx, rec.Hash, token)
		return storageErr(op, id, ErrIO, err)
	}

	fctx, fcancel := e.detached(ctx)
	defer fcancel()

	fin, err := e.repo.Finalize(fctx, id, rec.Hash, token)
	if err != nil {
		metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		log.Error("finalize retirement failed", zap.Error(err))
		return storageErr(op, id, ErrMetadataUnavailable, err)
	}

	if fin.Outcome != OutcomeRetired {
		metrics.RetiresTotal.WithLabelValues(metrics.RetireFailed).Inc()
		log.Error("retirement claim lost after blob removal",
			zap.String("outcome", string(fin.Outcome)),
			zap.String("path", res.Path),
			zap.Int64("ref_count", fin.RefCount),
		)
		return storageErr(op, id, ErrInconsistentState, errors.New("retirement claim lost"))
	}

	metrics.RetiresTotal.WithLabelValues(metrics.RetireRetired).Inc()
	log.Debug("content retired", zap.String("path", res.Path))
	return nil
}

// Ping checks the metadata store
func (e *Engine) Ping(ctx context.Context) error {
	return e.repo.Ping(ctx)
}

// retryBusy runs step until it yields something other than busy. Exists
// and backend errors are mapped here so callers only see usable outcomes.
func (e *Engine) retryBusy(ctx context.Context, op, id string, step func() (*ScriptResult, error)) (*ScriptResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := step()
		if err != nil {
			return nil, storageErr(op, id, ErrMetadataUnavailable, err)
		}

		switch res.Outcome {
		case OutcomeExists:
			return nil, storageErr(op, id, ErrIDExists, nil)
		case OutcomeBusy:
		default:
			return res, nil
		}

		if attempt >= e.config.BusyRetries {
			return nil, storageErr(op, id, ErrContentBusy, nil)
		}
		metrics.BusyWaitsTotal.Inc()
		if err := e.wait(ctx, attempt); err != nil {
			return nil, storageErr(op, id, ErrContentBusy, err)
		}
	}
}

// wait sleeps a linearly growing backoff capped at 8x the base
func (e *Engine) wait(ctx context.Context, attempt int) error {
	step := attempt + 1
	if step > 8 {
		step = 8
	}

	timer := time.NewTimer(e.config.BusyBackoff * time.Duration(step))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// detached bounds a call that has to complete even if the request goes away
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.CleanupTimeout)
}

// settleCommit decides the fate of a freshly written blob after a commit
// whose reply never arrived. ok is true when file:<id> was recorded with
// path. The blob is removed only when no record is known to point at it;
// if the records cannot be read it is kept as an unreferenced leak.
func (e *Engine) settleCommit(ctx context.Context, id, digest, path string) (*ScriptResult, bool) {
	sctx, cancel := e.detached(ctx)
	defer cancel()
	log := e.logger.WithContext(ctx).With(zap.String("digest", digest), zap.String("path", path))

	up, content, err := e.repo.Snapshot(sctx, id)
	switch {
	case err == nil && up.Path == path:
		res := &ScriptResult{Outcome: OutcomeCreated, Path: path, RefCount: 1}
		if content != nil {
			res.RefCount = content.RefCount
		}
		return res, true
	case err == nil, errors.Is(err, ErrRecordNotFound):
	default:
		log.Warn("cannot verify commit, keeping blob", zap.Error(err))
		return nil, false
	}

	content, err = e.repo.GetContent(sctx, digest)
	switch {
	case errors.Is(err, ErrRecordNotFound):
	case err != nil:
		log.Warn("cannot verify commit, keeping blob", zap.Error(err))
		return nil, false
	case content.Path == path:
		log.Warn("blob referenced by content record, keeping it")
		return nil, false
	}

	e.discard(ctx, path)
	return nil, false
}

// abortClaim drops the retirement claim held under token, if any
func (e *Engine) abortClaim(ctx context.Context, digest, token string) {
	actx, cancel := e.detached(ctx)
	defer cancel()

	if err := e.repo.Abort(actx, digest, token); err != nil {
		e.logger.WithContext(ctx).Warn("abort retirement claim failed, lease will expire",
			zap.String("digest", digest),
			zap.Error(err),
		)
	}
}

// discard removes a blob written by this call that nothing references
func (e *Engine) discard(ctx context.Context, path string) {
	cctx, cancel := e.detached(ctx)
	defer cancel()

	if err := e.blobs.Remove(cctx, path); err != nil {
		e.logger.WithContext(ctx).Warn("remove unreferenced blob failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (e *Engine) repoErr(op, id string, err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return storageErr(op, id, ErrNotFound, nil)
	case errors.Is(err, models.ErrMalformedRecord):
		return storageErr(op, id, ErrInconsistentState, err)
	default:
		return storageErr(op, id, ErrMetadataUnavailable, err)
	}
}

func (e *Engine) unexpected(op, id string, outcome Outcome) error {
	e.logger.Error("unexpected metadata outcome",
		zap.String("op", op),
		zap.String("file_id", id),
		zap.String("outcome", string(outcome)),
	)
	return storageErr(op, id, ErrInconsistentState, errors.New(string(outcome)))
}

func (e *Engine) upload(id, digest string, res *ScriptResult, size int64, now time.Time, dedup bool) *Upload {
	return &Upload{
		ID:           id,
		Hash:         digest,
		Path:         res.Path,
		Size:         size,
		CreatedAt:    time.Unix(now.Unix(), 0),
		Deduplicated: dedup,
		RefCount:     res.RefCount,
	}
}
