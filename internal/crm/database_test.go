package crm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrbitaAI/call-orchestrator/internal/domain"
	"github.com/OrbitaAI/call-orchestrator/internal/repository"
)

type fakeCallLogRepo struct {
	upserted []*domain.CallLog
}

func (r *fakeCallLogRepo) Create(ctx context.Context, log *domain.CallLog) error {
	r.upserted = append(r.upserted, log)
	return nil
}

func (r *fakeCallLogRepo) Upsert(ctx context.Context, log *domain.CallLog) error {
	r.upserted = append(r.upserted, log)
	return nil
}

func (r *fakeCallLogRepo) GetByCallID(ctx context.Context, callID string) (*domain.CallLog, error) {
	for _, log := range r.upserted {
		if log.CallID == callID {
			return log, nil
		}
	}
	return nil, nil
}

func (r *fakeCallLogRepo) ListRecent(ctx context.Context, limit int) ([]*domain.CallLog, error) {
	return r.upserted, nil
}

func (r *fakeCallLogRepo) Exists(ctx context.Context, callID string) (bool, error) {
	log, _ := r.GetByCallID(ctx, callID)
	return log != nil, nil
}

type fakeRepoManager struct {
	callLogs *fakeCallLogRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{callLogs: &fakeCallLogRepo{}}
}

func (m *fakeRepoManager) CallLog() repository.CallLogRepository { return m.callLogs }

func (m *fakeRepoManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	return fn(ctx, m)
}

func (m *fakeRepoManager) Ping(ctx context.Context) error { return nil }

func (m *fakeRepoManager) Close() error { return nil }

func TestDatabaseAdapterLogCall(t *testing.T) {
	repos := newFakeRepoManager()
	adapter := NewDatabaseAdapter(repos)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := &CallRecord{
		CallID:     "call-1",
		CustomerID: "+15551234567",
		CallType:   CallTypeInbound,
		StartTime:  start,
		EndTime:    start.Add(90 * time.Second),
		Transcript: "thanks, bye",
		Metadata:   map[string]interface{}{"campaign": "spring"},
	}
	require.NoError(t, adapter.LogCall(context.Background(), record))

	require.Len(t, repos.callLogs.upserted, 1)
	stored := repos.callLogs.upserted[0]
	assert.Equal(t, "call-1", stored.CallID)
	assert.Equal(t, domain.CallTypeInbound, stored.CallType)
	assert.Equal(t, 90, stored.DurationSeconds, "duration derived from start/end")
	assert.Equal(t, "thanks, bye", stored.Transcript)
	assert.Equal(t, "spring", stored.Metadata["campaign"])
}

func TestDatabaseAdapterUnsupportedOperations(t *testing.T) {
	adapter := NewDatabaseAdapter(newFakeRepoManager())

	_, err := adapter.CreateContact(context.Background(), map[string]interface{}{"name": "Ada"})
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = adapter.CreateTicket(context.Background(), "title", "desc", "", nil)
	assert.ErrorIs(t, err, ErrNotSupported)

	adapterViaFactory, err := NewAdapter(Config{Provider: ProviderDatabase}, newFakeRepoManager())
	require.NoError(t, err)
	assert.IsType(t, &DatabaseAdapter{}, adapterViaFactory)
}
