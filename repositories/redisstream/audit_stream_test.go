package redisstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/repositories"
	"github.com/upb/authaudit/services"
	"go.uber.org/zap"
)

func newTestStream(t *testing.T) (*miniredis.Miniredis, *AuditStream) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewAuditStream(client, "audit:test", zap.NewNop())
}

func record(recorderID uuid.UUID, seq int64, principal string) *models.AuditRecord {
	return &models.AuditRecord{
		ID:         uuid.New(),
		RecorderID: recorderID,
		Sequence:   seq,
		Timestamp:  time.Date(2024, 3, 1, 12, 0, int(seq), 500, time.UTC),
		EventKind:  models.EventKindAuthFail,
		Principal:  principal,
		Message:    "[FAIL] login attempt for " + principal,
	}
}

func TestAuditStream_AppendAndGetByID(t *testing.T) {
	mr, stream := newTestStream(t)
	ctx := context.Background()
	rec := record(uuid.New(), 0, "alice")

	require.NoError(t, stream.Append(ctx, rec))

	got, err := stream.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// The raw entry carries the structured fields
	entries, err := mr.Stream("audit:test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values, "auth_fail")
	assert.Contains(t, entries[0].Values, "alice")
}

func TestAuditStream_GetByID_Unindexed(t *testing.T) {
	mr, stream := newTestStream(t)
	ctx := context.Background()
	rec := record(uuid.New(), 0, "alice")

	require.NoError(t, stream.Append(ctx, rec))
	mr.Del("audit:test:ids")

	got, err := stream.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestAuditStream_GetByID_NotFound(t *testing.T) {
	_, stream := newTestStream(t)

	_, err := stream.GetByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestAuditStream_List(t *testing.T) {
	_, stream := newTestStream(t)
	ctx := context.Background()
	recorderID := uuid.New()

	for i := 0; i < 6; i++ {
		principal := "alice"
		if i%2 == 1 {
			principal = "bob"
		}
		require.NoError(t, stream.Append(ctx, record(recorderID, int64(i), principal)))
	}

	tests := []struct {
		name     string
		query    repositories.RecordQuery
		wantSeqs []int64
	}{
		{"all", repositories.RecordQuery{}, []int64{0, 1, 2, 3, 4, 5}},
		{"by principal", repositories.RecordQuery{Principal: "bob"}, []int64{1, 3, 5}},
		{"paged", repositories.RecordQuery{Limit: 2, Offset: 1}, []int64{1, 2}},
		{"paged by principal", repositories.RecordQuery{Principal: "alice", Limit: 1, Offset: 2}, []int64{4}},
		{"past the end", repositories.RecordQuery{Offset: 10}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := stream.List(ctx, tt.query)
			require.NoError(t, err)

			seqs := []int64{}
			for _, r := range records {
				seqs = append(seqs, r.Sequence)
			}
			assert.Equal(t, tt.wantSeqs, seqs)
		})
	}
}

func TestAuditStream_ListAcrossBatches(t *testing.T) {
	_, stream := newTestStream(t)
	ctx := context.Background()
	recorderID := uuid.New()

	total := scanBatch + 20
	for i := 0; i < total; i++ {
		require.NoError(t, stream.Append(ctx, record(recorderID, int64(i), fmt.Sprintf("user-%d", i))))
	}

	records, err := stream.List(ctx, repositories.RecordQuery{Offset: scanBatch - 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, r := range records {
		assert.Equal(t, int64(scanBatch-5+i), r.Sequence)
	}
}

func TestAuditStream_Ping(t *testing.T) {
	mr, stream := newTestStream(t)

	require.NoError(t, stream.Ping(context.Background()))

	mr.Close()
	assert.Error(t, stream.Ping(context.Background()))
}

func TestAuditStream_AppendFailsWhenRedisDown(t *testing.T) {
	mr, stream := newTestStream(t)
	mr.Close()

	err := stream.Append(context.Background(), record(uuid.New(), 0, "alice"))
	assert.Error(t, err)
}

func TestNextEntryID(t *testing.T) {
	next, err := nextEntryID("1700000000000-7")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-8", next)

	_, err = nextEntryID("garbage")
	assert.Error(t, err)
}
