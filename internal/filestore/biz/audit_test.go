package biz_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/workerpool"
)

func newAuditor(t *testing.T, env *testEnv) *biz.Auditor {
	t.Helper()
	pool, err := workerpool.New(&workerpool.Config{Workers: 4, ReleaseTimeout: workerpool.DefaultConfig().ReleaseTimeout}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	return biz.NewAuditor(env.repo, env.store, pool, logger.NewNop())
}

func issueKinds(report *biz.AuditReport) map[string][]string {
	kinds := make(map[string][]string)
	for _, issue := range report.Issues {
		kinds[issue.Kind] = append(kinds[issue.Kind], issue.Key)
	}
	return kinds
}

func TestAuditConsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := env.engine.Ingest(ctx, id, strings.NewReader("hello"))
		require.NoError(t, err)
	}
	_, err := env.engine.Ingest(ctx, "u4", strings.NewReader("world"))
	require.NoError(t, err)

	report, err := newAuditor(t, env).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Issues)
	assert.Equal(t, 2, report.Contents)
	assert.Equal(t, 4, report.Uploads)
	assert.NotNil(t, report.Issues)
}

func TestAuditFindsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hello, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	world, err := env.engine.Ingest(ctx, "u2", strings.NewReader("world"))
	require.NoError(t, err)

	// blob gone under a live record
	require.NoError(t, env.store.LocalStore.Remove(ctx, world.Path))
	// count says two, one upload exists
	env.mr.HSet(models.ContentKey(hello.Hash), "cnt", "2")
	// upload without content
	env.mr.HSet(models.UploadKey("ghost"), "fh", "deadbeef", "fp", "de/ad/deadbeef/ghost", "ts", "1")
	// upload whose path disagrees with its content
	env.mr.HSet(models.UploadKey("u3"), "fh", hello.Hash, "fp", "elsewhere", "ts", "1")
	// unparseable record
	env.mr.HSet(models.ContentKey("bad"), "fp", "x", "cnt", "many")

	report, err := newAuditor(t, env).Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())

	kinds := issueKinds(report)
	assert.Equal(t, []string{models.ContentKey(world.Hash)}, kinds[biz.IssueMissingBlob])
	assert.Equal(t, []string{models.UploadKey("ghost")}, kinds[biz.IssueDanglingUpload])
	assert.Equal(t, []string{models.UploadKey("u3")}, kinds[biz.IssuePathMismatch])
	assert.Equal(t, []string{models.ContentKey("bad")}, kinds[biz.IssueMalformedRecord])
	assert.Empty(t, kinds[biz.IssueRefCountMismatch], "u3 brings the hello references to two")
}

func TestAuditRefCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hello, err := env.engine.Ingest(ctx, "u1", strings.NewReader("hello"))
	require.NoError(t, err)
	world, err := env.engine.Ingest(ctx, "u2", strings.NewReader("world"))
	require.NoError(t, err)

	env.mr.HSet(models.ContentKey(hello.Hash), "cnt", "3")
	env.mr.HSet(models.ContentKey(world.Hash), "cnt", "0")

	report, err := newAuditor(t, env).Run(ctx)
	require.NoError(t, err)

	kinds := issueKinds(report)
	assert.Equal(t, []string{models.ContentKey(hello.Hash)}, kinds[biz.IssueRefCountMismatch])
	assert.Equal(t, []string{models.ContentKey(world.Hash)}, kinds[biz.IssueZeroRefCount])
}
