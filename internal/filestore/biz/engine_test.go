package biz_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/data"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// flakyStore wraps a LocalStore with switchable failures and a write hook
type flakyStore struct {
	*data.LocalStore
	failWrite  atomic.Bool
	failRemove atomic.Bool
	onWrite    func(path string)
}

func (s *flakyStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if s.failWrite.Load() {
		return 0, errors.New("disk full")
	}
	if s.onWrite != nil {
		s.onWrite(path)
	}
	return s.LocalStore.Write(ctx, path, r)
}

func (s *flakyStore) Remove(ctx context.Context, path string) error {
	if s.failRemove.Load() {
		return errors.New("permission denied")
	}
	return s.LocalStore.Remove(ctx, path)
}

// lossyRepo wraps the Redis repo and can drop script replies after the
// script has run, the way a timed out or cancelled call does.
type lossyRepo struct {
	biz.MetadataRepo
	commitFails  atomic.Bool // commit errors before reaching Redis
	commitLost   atomic.Bool // commit runs, reply is lost
	releaseLost  atomic.Bool // release runs, reply is lost
	readsFail    atomic.Bool // Snapshot and GetContent error
	beforeCommit func()
}

func (r *lossyRepo) Commit(ctx context.Context, id, digest, path string, size int64, now time.Time) (*biz.ScriptResult, error) {
	if r.beforeCommit != nil {
		r.beforeCommit()
	}
	if r.commitFails.Load() {
		return nil, errors.New("connection reset by peer")
	}
	res, err := r.MetadataRepo.Commit(ctx, id, digest, path, size, now)
	if err == nil && r.commitLost.Load() {
		return nil, context.Canceled
	}
	return res, err
}

func (r *lossyRepo) Release(ctx context.Context, id, digest, token string, now, leaseUntil time.Time) (*biz.ScriptResult, error) {
	res, err := r.MetadataRepo.Release(ctx, id, digest, token, now, leaseUntil)
	if err == nil && r.releaseLost.Load() {
		return nil, context.DeadlineExceeded
	}
	return res, err
}

func (r *lossyRepo) Snapshot(ctx context.Context, id string) (*models.UploadRecord, *models.ContentRecord, error) {
	if r.readsFail.Load() {
		return nil, nil, errors.New("i/o timeout")
	}
	return r.MetadataRepo.Snapshot(ctx, id)
}

func (r *lossyRepo) GetContent(ctx context.Context, digest string) (*models.ContentRecord, error) {
	if r.readsFail.Load() {
		return nil, errors.New("i/o timeout")
	}
	return r.MetadataRepo.GetContent(ctx, digest)
}

type testEnv struct {
	engine *biz.Engine
	repo   *data.MetadataRepo
	meta   *lossyRepo
	store  *flakyStore
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, tune func(cfg *biz.EngineConfig)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rcfg := pkgredis.DefaultConfig()
	rcfg.MasterAddr = mr.Addr()
	rdb, err := pkgredis.New(rcfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	local, err := data.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	hasher, err := biz.NewHasher(biz.HashSHA256)
	require.NoError(t, err)

	cfg := biz.DefaultEngineConfig()
	cfg.BusyRetries = 3
	cfg.BusyBackoff = time.Millisecond
	if tune != nil {
		tune(&cfg)
	}

	repo := data.NewMetadataRepo(rdb, 100, logger.NewNop())
	meta := &lossyRepo{MetadataRepo: repo}
	store := &flakyStore{LocalStore: local}

	return &testEnv{
		engine: biz.NewEngine(meta, store, hasher, cfg, logger.NewNop()),
		repo:   repo,
		meta:   meta,
		store:  store,
		mr:     mr,
	}
}

// blobCount counts regular files under the storage root
func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(e.store.Root(), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func (e *testEnv) read(t *testing.T, id string) string {
	t.Helper()
	rc, _, err := e.engine.Open(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(body)
}

func TestIngestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	up, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.False(t, up.Deduplicated)
	assert.Equal(t, helloSHA256, up.Hash)
	assert.Equal(t, int64(5), up.Size)
	assert.Equal(t, int64(1), up.RefCount)
	assert.Equal(t, models.BlobPath(helloSHA256, "u1"), up.Path)

	assert.Equal(t, "hello", env.read(t, "u1"))

	info, err := env.engine.Stat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, int64(1), info.RefCount)
	assert.Equal(t, helloSHA256, info.Hash)
}

func TestIngestEmptyContent(t *testing.T) {
	env := newTestEnv(t)

	up, err := env.engine.Ingest(context.Background(), "empty", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), up.Size)
	assert.Equal(t, "", env.read(t, "empty"))
}

func TestDeduplicationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	second, err := env.engine.Ingest(ctx, "u2", strings.NewReader("hello"))
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, int64(2), second.RefCount)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, env.blobCount(t))
	assert.Equal(t, "2", env.mr.HGet(models.ContentKey(helloSHA256), "cnt"))

	require.NoError(t, env.engine.Retire(ctx, "u1"))
	assert.Equal(t, 1, env.blobCount(t))
	assert.Equal(t, "1", env.mr.HGet(models.ContentKey(helloSHA256), "cnt"))
	assert.Equal(t, "hello", env.read(t, "u2"))

	_, _, err = env.engine.Open(ctx, "u1")
	assert.ErrorIs(t, err, biz.ErrNotFound)

	require.NoError(t, env.engine.Retire(ctx, "u2"))
	assert.Equal(t, 0, env.blobCount(t))
	assert.False(t, env.mr.Exists(models.ContentKey(helloSHA256)))
	assert.False(t, env.mr.Exists(models.UploadKey("u2")))

	assert.ErrorIs(t, env.engine.Retire(ctx, "u1"), biz.ErrNotFound)
}

func TestRetireOrderIndependence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	_, err = env.engine.Ingest(ctx, "u2", strings.NewReader("hello"))
	require.NoError(t, err)

	require.NoError(t, env.engine.Retire(ctx, "u2"))
	assert.Equal(t, "hello", env.read(t, "u1"))

	require.NoError(t, env.engine.Retire(ctx, "u1"))
	assert.Equal(t, 0, env.blobCount(t))
	assert.Empty(t, env.mr.Keys())
}

func TestIngestRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "../etc", strings.NewReader("x"))
	assert.ErrorIs(t, err, biz.ErrInvalidID)

	_, err = env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	_, err = env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrIDExists)
	_, err = env.engine.Ingest(ctx, "u1", strings.NewReader("other"))
	assert.ErrorIs(t, err, biz.ErrIDExists)

	assert.Equal(t, "1", env.mr.HGet(models.ContentKey(helloSHA256), "cnt"))
	assert.Equal(t, 1, env.blobCount(t))
}

func TestUnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	before := env.mr.Keys()

	for _, id := range []string{"missing", "", "../../x", strings.Repeat("a", 65)} {
		assert.ErrorIs(t, env.engine.Retire(ctx, id), biz.ErrNotFound, id)
		_, _, err := env.engine.Open(ctx, id)
		assert.ErrorIs(t, err, biz.ErrNotFound, id)
		_, err = env.engine.Stat(ctx, id)
		assert.ErrorIs(t, err, biz.ErrNotFound, id)
	}

	assert.Equal(t, before, env.mr.Keys())
	assert.Equal(t, "1", env.mr.HGet(models.ContentKey(helloSHA256), "cnt"))
}

func TestConcurrentIdenticalIngests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const n = 16

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.Ingest(ctx, fmt.Sprintf("u%d", i), strings.NewReader("same bytes"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.blobCount(t))

	up, err := env.repo.GetUpload(ctx, "u0")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(n), env.mr.HGet(models.ContentKey(up.Hash), "cnt"))

	for i := 0; i < n; i++ {
		assert.Equal(t, "same bytes", env.read(t, fmt.Sprintf("u%d", i)))
	}
}

func TestConcurrentRetires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const n = 16

	for i := 0; i < n; i++ {
		_, err := env.engine.Ingest(ctx, fmt.Sprintf("u%d", i), strings.NewReader("hello"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.engine.Retire(ctx, fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 0, env.blobCount(t))
	assert.Empty(t, env.mr.Keys())
}

func TestIngestWaitsForClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)

	// Someone else holds the retirement claim for a long time.
	lease := time.Now().Add(time.Hour).UnixMilli()
	env.mr.HSet(models.ContentKey(helloSHA256), "rl", fmt.Sprint(lease), "rt", "other")

	_, err = env.engine.Ingest(ctx, "u2", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrContentBusy)
	assert.False(t, env.mr.Exists(models.UploadKey("u2")))

	err = env.engine.Retire(ctx, "u1")
	assert.ErrorIs(t, err, biz.ErrContentBusy)
	assert.True(t, env.mr.Exists(models.UploadKey("u1")))

	// Once the claim is dropped the waiting ingest takes a reference.
	require.NoError(t, env.repo.Abort(ctx, helloSHA256, "other"))
	up, err := env.engine.Ingest(ctx, "u2", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.True(t, up.Deduplicated)
	assert.Equal(t, int64(2), up.RefCount)
}

func TestWriteFailureLeavesNoMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWrite.Store(true)

	_, err := env.engine.Ingest(context.Background(), "u1", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrWriteFailed)
	assert.Empty(t, env.mr.Keys())
	assert.Equal(t, 0, env.blobCount(t))
}

func TestCommitRaceDiscardsCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	winner := models.BlobPath(helloSHA256, "winner")

	// Another writer commits the same digest while this upload is writing.
	env.store.onWrite = func(path string) {
		env.store.onWrite = nil
		_, err := env.store.LocalStore.Write(ctx, winner, strings.NewReader("hello"))
		require.NoError(t, err)
		_, err = env.repo.Commit(ctx, "winner", helloSHA256, winner, 5, time.Now())
		require.NoError(t, err)
	}

	up, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.True(t, up.Deduplicated)
	assert.Equal(t, winner, up.Path)
	assert.Equal(t, int64(2), up.RefCount)
	assert.Equal(t, 1, env.blobCount(t))
}

func TestRemoveFailureAbortsClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)

	env.store.failRemove.Store(true)
	assert.ErrorIs(t, env.engine.Retire(ctx, "u1"), biz.ErrIO)

	key := models.ContentKey(helloSHA256)
	assert.Equal(t, "1", env.mr.HGet(key, "cnt"))
	assert.Empty(t, env.mr.HGet(key, "rt"))
	assert.Empty(t, env.mr.HGet(key, "rl"))
	assert.Equal(t, "hello", env.read(t, "u1"))

	env.store.failRemove.Store(false)
	require.NoError(t, env.engine.Retire(ctx, "u1"))
	assert.Empty(t, env.mr.Keys())
}

func TestMissingBlobIsInconsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	up, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	require.NoError(t, env.store.LocalStore.Remove(ctx, up.Path))

	_, _, err = env.engine.Open(ctx, "u1")
	assert.ErrorIs(t, err, biz.ErrInconsistentState)

	env.mr.Del(models.ContentKey(helloSHA256))
	_, err = env.engine.Stat(ctx, "u1")
	assert.ErrorIs(t, err, biz.ErrInconsistentState)
	assert.ErrorIs(t, env.engine.Retire(ctx, "u1"), biz.ErrInconsistentState)
}

func TestMetadataUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	_, err := env.engine.Ingest(context.Background(), "u1", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrMetadataUnavailable)
	assert.Error(t, env.engine.Ping(context.Background()))
	assert.Equal(t, 0, env.blobCount(t))
}

func TestStorageErrorDetails(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.Retire(context.Background(), "missing")
	var serr *biz.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "retire", serr.Op)
	assert.Equal(t, "missing", serr.ID)
	assert.Contains(t, err.Error(), "file not found")
}

func TestCommitReplyLostKeepsRecordedUpload(t *testing.T) {
	env := newTestEnv(t)
	env.meta.commitLost.Store(true)

	up, err := env.engine.Ingest(context.Background(), "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.False(t, up.Deduplicated)
	assert.Equal(t, int64(1), up.RefCount)
	assert.Equal(t, models.BlobPath(helloSHA256, "u1"), up.Path)

	assert.Equal(t, 1, env.blobCount(t))
	assert.Equal(t, "hello", env.read(t, "u1"))
}

func TestCommitFailureBeforeApplyDiscardsBlob(t *testing.T) {
	env := newTestEnv(t)
	env.meta.commitFails.Store(true)

	_, err := env.engine.Ingest(context.Background(), "u1", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrMetadataUnavailable)
	assert.Empty(t, env.mr.Keys())
	assert.Equal(t, 0, env.blobCount(t))
}

func TestUnverifiableCommitNeverLeavesDanglingRecord(t *testing.T) {
	env := newTestEnv(t)
	env.meta.commitLost.Store(true)
	env.meta.readsFail.Store(true)

	_, err := env.engine.Ingest(context.Background(), "u1", strings.NewReader("hello"))
	assert.ErrorIs(t, err, biz.ErrMetadataUnavailable)

	// The commit did land; its blob must still be there.
	assert.True(t, env.mr.Exists(models.UploadKey("u1")))
	assert.Equal(t, 1, env.blobCount(t))
	assert.Equal(t, "hello", env.read(t, "u1"))
}

func TestCommitOutlivesCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client goes away after the upload was written.
	env.meta.beforeCommit = cancel

	up, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.RefCount)
	assert.Equal(t, "hello", env.read(t, "u1"))
}

func TestReleaseReplyLostDropsClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)

	env.meta.releaseLost.Store(true)
	assert.ErrorIs(t, env.engine.Retire(ctx, "u1"), biz.ErrMetadataUnavailable)
	env.meta.releaseLost.Store(false)

	key := models.ContentKey(helloSHA256)
	assert.Empty(t, env.mr.HGet(key, "rt"))
	assert.Empty(t, env.mr.HGet(key, "rl"))
	assert.Equal(t, "1", env.mr.HGet(key, "cnt"))

	// Same content is not blocked for the lease duration.
	up, err := env.engine.Ingest(ctx, "u2", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.True(t, up.Deduplicated)

	require.NoError(t, env.engine.Retire(ctx, "u1"))
	require.NoError(t, env.engine.Retire(ctx, "u2"))
	assert.Empty(t, env.mr.Keys())
	assert.Equal(t, 0, env.blobCount(t))
}

func TestRemoveNeverOutlivesClaim(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *biz.EngineConfig) {
		cfg.RetireLease = time.Nanosecond
	})
	ctx := context.Background()

	_, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)

	// The claim is already expired by the time removal would start.
	assert.ErrorIs(t, env.engine.Retire(ctx, "u1"), biz.ErrIO)
	assert.Equal(t, 1, env.blobCount(t))
	assert.Empty(t, env.mr.HGet(models.ContentKey(helloSHA256), "rt"))
	assert.Equal(t, "hello", env.read(t, "u1"))
}
