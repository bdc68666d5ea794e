package services_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiKeyFixture struct {
	repo  *services.MockAPIKeyRepository
	audit *services.RecordingAuditEmitter
	clock *services.TestClock
	svc   *services.APIKeyService
}

func newAPIKeyFixture(t *testing.T) *apiKeyFixture {
	t.Helper()
	km, err := auth.NewAPIKeyManager("")
	require.NoError(t, err)

	f := &apiKeyFixture{
		repo:  services.NewMockAPIKeyRepository(),
		audit: &services.RecordingAuditEmitter{},
		clock: services.NewTestClock(testStart),
	}
	f.svc = services.NewAPIKeyService(f.repo, km, f.audit, f.clock.Now, time.Second, discardLogger())
	t.Cleanup(func() { _ = f.svc.Close(context.Background()) })
	return f
}

func TestAPIKeyService_Lifecycle(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	created, plain, err := f.svc.Create(ctx, "ci-pipeline", "org_1", nil, admin)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, auth.APIKeyPrefix))
	assert.Len(t, plain, len(auth.APIKeyPrefix)+64)
	assert.NotContains(t, created.KeyHash, plain)
	assert.Equal(t, "org_1", created.OrganizationID)
	assert.Equal(t, testStart, created.CreatedAt)

	ev := f.audit.Last(models.AuditActionAPIKeyCreate)
	require.NotNil(t, ev)
	assert.Equal(t, created.ID, ev.Target.ID)
	assert.Equal(t, "user_admin", ev.Actor.ID)

	keys, err := f.svc.List(ctx, "org_1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci-pipeline", keys[0].Name)

	others, err := f.svc.List(ctx, "org_2")
	require.NoError(t, err)
	assert.Empty(t, others)

	got, err := f.svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	require.Eventually(t, func() bool {
		return f.repo.LastUsed(created.ID) != nil
	}, time.Second, 5*time.Millisecond)

	deleted, err := f.svc.Delete(ctx, "org_2", created.ID, admin)
	require.NoError(t, err)
	assert.False(t, deleted, "another organization cannot delete the key")

	deleted, err = f.svc.Delete(ctx, "org_1", created.ID, admin)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NotNil(t, f.audit.Last(models.AuditActionAPIKeyDelete))

	_, err = f.svc.Validate(ctx, plain)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAPIKeyService_CreateValidation(t *testing.T) {
	f := newAPIKeyFixture(t)
	past := testStart.Add(-time.Minute)
	now := testStart

	tests := []struct {
		name      string
		keyName   string
		org       string
		expiresAt *time.Time
	}{
		{"empty name", "  ", "org_1", nil},
		{"name too long", strings.Repeat("k", 256), "org_1", nil},
		{"missing organization", "ci", "", nil},
		{"expiry in the past", "ci", "org_1", &past},
		{"expiry now", "ci", "org_1", &now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Create(context.Background(), tt.keyName, tt.org, tt.expiresAt, admin)
			assert.ErrorIs(t, err, models.ErrBadRequest)
		})
	}
	assert.Equal(t, 0, f.repo.Len())
}

func TestAPIKeyService_ValidateRejections(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	expires := testStart.Add(time.Hour)
	created, plain, err := f.svc.Create(ctx, "short-lived", "org_1", &expires, admin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		key    string
		reason string
	}{
		{"malformed", "not-a-key", "malformed"},
		{"wrong prefix", "pk_" + strings.Repeat("a", 64), "malformed"},
		{"unknown", auth.APIKeyPrefix + strings.Repeat("a", 64), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Validate(ctx, tt.key)
			assert.ErrorIs(t, err, models.ErrNotFound)

			ev := f.audit.Last(models.AuditActionAPIKeyValidateFailure)
			require.NotNil(t, ev)
			assert.Equal(t, tt.reason, ev.Metadata["reason"])
			assert.Equal(t, "anonymous", ev.Actor.ID)
		})
	}

	f.clock.Advance(time.Hour)
	_, err = f.svc.Validate(ctx, plain)
	assert.ErrorIs(t, err, models.ErrNotFound)

	ev := f.audit.Last(models.AuditActionAPIKeyValidateFailure)
	assert.Equal(t, "expired", ev.Metadata["reason"])
	assert.Equal(t, created.ID, ev.Target.ID)
	assert.Equal(t, "org_1", ev.Organization.ID)
}

func TestAPIKeyService_ValidateRejectsOneCharacterChange(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	_, plain, err := f.svc.Create(ctx, "ci", "org_1", nil, admin)
	require.NoError(t, err)

	for _, pos := range []int{len(auth.APIKeyPrefix), len(plain) / 2, len(plain) - 1} {
		mutated := []byte(plain)
		if mutated[pos] == 'a' {
			mutated[pos] = 'b'
		} else {
			mutated[pos] = 'a'
		}

		_, err := f.svc.Validate(ctx, string(mutated))
		assert.ErrorIs(t, err, models.ErrNotFound, "position %d", pos)
	}

	_, err = f.svc.Validate(ctx, plain)
	assert.NoError(t, err)
}

func TestAPIKeyService_RepositoryErrorsPropagate(t *testing.T) {
	f := newAPIKeyFixture(t)
	_, plain, err := f.svc.Create(context.Background(), "ci", "org_1", nil, admin)
	require.NoError(t, err)

	f.repo.Err = errors.New("connection reset")

	_, err = f.svc.Validate(context.Background(), plain)
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrNotFound))
}

func TestAPIKeyService_DeleteMalformedID(t *testing.T) {
	f := newAPIKeyFixture(t)

	deleted, err := f.svc.Delete(context.Background(), "org_1", "not-a-uuid", admin)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = f.svc.Delete(context.Background(), "org_1", uuid.NewString(), admin)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Nil(t, f.audit.Last(models.AuditActionAPIKeyDelete))
}

func TestAPIKeyService_DeleteForeignAndMissingLookAlike(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	created, _, err := f.svc.Create(ctx, "ci", "org_1", nil, admin)
	require.NoError(t, err)

	foreignDeleted, foreignErr := f.svc.Delete(ctx, "org_2", created.ID, admin)
	missingDeleted, missingErr := f.svc.Delete(ctx, "org_2", uuid.NewString(), admin)

	assert.Equal(t, missingDeleted, foreignDeleted)
	assert.Equal(t, missingErr, foreignErr)
	assert.NoError(t, foreignErr)
	assert.Nil(t, f.audit.Last(models.AuditActionAPIKeyDelete))
	assert.Equal(t, 1, f.repo.Len(), "the other organization's key survives")
}

// blockingKeyRepository holds every last_used_at write until release is closed
type blockingKeyRepository struct {
	*services.MockAPIKeyRepository
	release chan struct{}
	writes  atomic.Int32
}

func (r *blockingKeyRepository) UpdateLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	<-r.release
	r.writes.Add(1)
	return r.MockAPIKeyRepository.UpdateLastUsed(ctx, id, usedAt)
}

func TestAPIKeyService_LastUsedWritesAreBounded(t *testing.T) {
	km, err := auth.NewAPIKeyManager("")
	require.NoError(t, err)
	repo := &blockingKeyRepository{MockAPIKeyRepository: services.NewMockAPIKeyRepository(), release: make(chan struct{})}
	svc := services.NewAPIKeyService(repo, km, &services.RecordingAuditEmitter{}, services.NewTestClock(testStart).Now, time.Second, discardLogger())
	ctx := context.Background()

	created, plain, err := svc.Create(ctx, "busy", "org_1", nil, admin)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		_, err := svc.Validate(ctx, plain)
		require.NoError(t, err)
	}

	close(repo.release)
	require.NoError(t, svc.Close(ctx))

	writes := repo.writes.Load()
	assert.Less(t, writes, int32(1000), "excess updates are dropped instead of piling up")
	assert.Positive(t, writes)
	assert.NotNil(t, repo.LastUsed(created.ID))
}

func TestAPIKeyService_CloseFlushesLastUsed(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	created, plain, err := f.svc.Create(ctx, "ci", "org_1", nil, admin)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, plain)
	require.NoError(t, err)
	require.NoError(t, f.svc.Close(ctx))

	first := f.repo.LastUsed(created.ID)
	require.NotNil(t, first, "queued update written before Close returns")

	f.clock.Advance(time.Minute)
	_, err = f.svc.Validate(ctx, plain)
	require.NoError(t, err, "validation keeps working after Close")
	assert.Equal(t, *first, *f.repo.LastUsed(created.ID), "updates after Close are skipped")

	assert.NoError(t, f.svc.Close(ctx))
}

func TestAPIKeyService_PurgeExpired(t *testing.T) {
	f := newAPIKeyFixture(t)
	ctx := context.Background()

	soon := testStart.Add(time.Hour)
	_, _, err := f.svc.Create(ctx, "old", "org_1", &soon, admin)
	require.NoError(t, err)
	_, _, err = f.svc.Create(ctx, "forever", "org_1", nil, admin)
	require.NoError(t, err)

	n, err := f.svc.PurgeExpired(ctx, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.repo.Len())
}
