package data

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
)

// MetadataRepo implements biz.MetadataRepo on Redis hashes
type MetadataRepo struct {
	rdb       *pkgredis.Client
	scanCount int64
	logger    *logger.Logger
}

// NewMetadataRepo 创建元数据仓储，scanCount 是审计时每批 SCAN 的提示数量
func NewMetadataRepo(rdb *pkgredis.Client, scanCount int64, log *logger.Logger) *MetadataRepo {
	if scanCount <= 0 {
		scanCount = 500
	}
	return &MetadataRepo{
		rdb:       rdb,
		scanCount: scanCount,
		logger:    log.Named("metadata"),
	}
}

var _ biz.MetadataRepo = (*MetadataRepo)(nil)

func (r *MetadataRepo) Acquire(ctx context.Context, id, digest string, now time.Time) (*biz.ScriptResult, error) {
	return r.run(ctx, acquireScript, digest, id, digest, now.Unix(), now.UnixMilli())
}

func (r *MetadataRepo) Commit(ctx context.Context, id, digest, path string, size int64, now time.Time) (*biz.ScriptResult, error) {
	return r.run(ctx, commitScript, digest, id, digest, now.Unix(), now.UnixMilli(), path, size)
}

func (r *MetadataRepo) Release(ctx context.Context, id, digest, token string, now, leaseUntil time.Time) (*biz.ScriptResult, error) {
	return r.run(ctx, releaseScript, digest, id, token, now.UnixMilli(), leaseUntil.UnixMilli(), digest)
}

func (r *MetadataRepo) Finalize(ctx context.Context, id, digest, token string) (*biz.ScriptResult, error) {
	return r.run(ctx, finalizeScript, digest, id, token)
}

func (r *MetadataRepo) Abort(ctx context.Context, digest, token string) error {
	_, err := r.rdb.RunScript(ctx, abortScript, []string{models.ContentKey(digest)}, token)
	return err
}

// GetUpload 读取 file:<id>
func (r *MetadataRepo) GetUpload(ctx context.Context, id string) (*models.UploadRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, models.UploadKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", biz.ErrRecordNotFound, models.UploadKey(id))
	}
	return models.ParseUploadRecord(id, fields)
}

// GetContent 读取 fh:<digest>
func (r *MetadataRepo) GetContent(ctx context.Context, digest string) (*models.ContentRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, models.ContentKey(digest))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", biz.ErrRecordNotFound, models.ContentKey(digest))
	}
	return models.ParseContentRecord(digest, fields)
}

// Snapshot reads both records inside one MULTI so the pair reflects a single
// point in time. The digest is looked up first; if file:<id> changes in
// between, the transactional read reports it as gone.
func (r *MetadataRepo) Snapshot(ctx context.Context, id string) (*models.UploadRecord, *models.ContentRecord, error) {
	key := models.UploadKey(id)

	digest, err := r.rdb.HGet(ctx, key, models.FieldHash)
	if pkgredis.IsNil(err) {
		return nil, nil, fmt.Errorf("%w: %s", biz.ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, nil, err
	}

	var upCmd, contentCmd *redis.MapStringStringCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		upCmd = pipe.HGetAll(ctx, key)
		contentCmd = pipe.HGetAll(ctx, models.ContentKey(digest))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	upFields := upCmd.Val()
	if len(upFields) == 0 || upFields[models.FieldHash] != digest {
		return nil, nil, fmt.Errorf("%w: %s", biz.ErrRecordNotFound, key)
	}

	up, err := models.ParseUploadRecord(id, upFields)
	if err != nil {
		return nil, nil, err
	}

	contentFields := contentCmd.Val()
	if len(contentFields) == 0 {
		return up, nil, nil
	}

	content, err := models.ParseContentRecord(digest, contentFields)
	if err != nil {
		return nil, nil, err
	}
	return up, content, nil
}

func (r *MetadataRepo) ScanContents(ctx context.Context, fn func(key string, rec *models.ContentRecord, parseErr error) error) error {
	return r.rdb.ScanHashes(ctx, models.ContentKeyPrefix+"*", r.scanCount, func(key string, fields map[string]string) error {
		rec, err := models.ParseContentRecord(strings.TrimPrefix(key, models.ContentKeyPrefix), fields)
		return fn(key, rec, err)
	})
}

func (r *MetadataRepo) ScanUploads(ctx context.Context, fn func(key string, rec *models.UploadRecord, parseErr error) error) error {
	return r.rdb.ScanHashes(ctx, models.UploadKeyPrefix+"*", r.scanCount, func(key string, fields map[string]string) error {
		rec, err := models.ParseUploadRecord(strings.TrimPrefix(key, models.UploadKeyPrefix), fields)
		return fn(key, rec, err)
	})
}

func (r *MetadataRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx)
}

// Preload 预加载全部脚本
func (r *MetadataRepo) Preload(ctx context.Context) error {
	return r.rdb.LoadScripts(ctx, Scripts()...)
}

// run executes a two-key script against fh:<digest> and file:<id>
func (r *MetadataRepo) run(ctx context.Context, script *redis.Script, digest, id string, args ...interface{}) (*biz.ScriptResult, error) {
	keys := []string{models.ContentKey(digest), models.UploadKey(id)}

	val, err := r.rdb.RunScript(ctx, script, keys, args...)
	if err != nil {
		return nil, err
	}

	res, err := parseResult(val)
	if err != nil {
		r.logger.Error("unexpected script reply",
			zap.Strings("keys", keys),
			zap.Any("reply", val),
			zap.Error(err),
		)
		return nil, err
	}
	return res, nil
}

// parseResult decodes the {outcome, path, count} reply shared by all scripts
func parseResult(val interface{}) (*biz.ScriptResult, error) {
	items, ok := val.([]interface{})
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("script reply %T is not a non-empty array", val)
	}

	outcome, ok := items[0].(string)
	if !ok {
		return nil, fmt.Errorf("script outcome %T is not a string", items[0])
	}

	res := &biz.ScriptResult{Outcome: biz.Outcome(outcome)}
	if len(items) > 1 {
		if path, ok := items[1].(string); ok {
			res.Path = path
		}
	}
	if len(items) > 2 {
		switch n := items[2].(type) {
		case int64:
			res.RefCount = n
		case string:
			cnt, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("script count %q: %w", n, err)
			}
			res.RefCount = cnt
		default:
			return nil, fmt.Errorf("script count %T is not an integer", items[2])
		}
	}
	return res, nil
}
