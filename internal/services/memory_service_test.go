package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.Setting{},
		&models.MemoryFact{},
		&models.MCPServer{},
	))
	return db
}

func newTestMemoryService(t *testing.T, maxFacts int) (*MemoryService, *gorm.DB) {
	db := testDB(t)
	return NewMemoryService(db, maxFacts, 1000, 5, zap.NewNop()), db
}

func TestSaveFactAndList(t *testing.T) {
	svc, _ := newTestMemoryService(t, 10)
	userID := uuid.New()
	ctx := context.Background()

	created, err := svc.SaveFact(ctx, userID, "likes tea")
	require.NoError(t, err)
	assert.True(t, created)

	facts, err := svc.ListFacts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "likes tea", facts[0].Content)
}

func TestSaveFactDuplicateCaseInsensitive(t *testing.T) {
	svc, _ := newTestMemoryService(t, 10)
	userID := uuid.New()
	ctx := context.Background()

	created, err := svc.SaveFact(ctx, userID, "Likes Tea")
	require.NoError(t, err)
	require.True(t, created)

	created, err = svc.SaveFact(ctx, userID, "likes tea")
	require.NoError(t, err)
	assert.False(t, created)

	facts, _ := svc.ListFacts(ctx, userID)
	assert.Len(t, facts, 1)
}

func TestSaveFactCap(t *testing.T) {
	svc, _ := newTestMemoryService(t, 2)
	userID := uuid.New()
	ctx := context.Background()

	_, err := svc.SaveFact(ctx, userID, "fact one")
	require.NoError(t, err)
	_, err = svc.SaveFact(ctx, userID, "fact two")
	require.NoError(t, err)

	_, err = svc.SaveFact(ctx, userID, "fact three")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMemoryFull))

	// A duplicate at the cap is still not an error.
	created, err := svc.SaveFact(ctx, userID, "fact one")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSaveFactValidation(t *testing.T) {
	svc, _ := newTestMemoryService(t, 10)
	userID := uuid.New()
	ctx := context.Background()

	_, err := svc.SaveFact(ctx, userID, "   ")
	assert.Error(t, err)

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}
	_, err = svc.SaveFact(ctx, userID, string(long))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestDeleteFactOwnershipScoped(t *testing.T) {
	svc, _ := newTestMemoryService(t, 10)
	owner := uuid.New()
	stranger := uuid.New()
	ctx := context.Background()

	_, err := svc.SaveFact(ctx, owner, "private fact")
	require.NoError(t, err)
	facts, _ := svc.ListFacts(ctx, owner)
	require.Len(t, facts, 1)

	err = svc.DeleteFact(ctx, stranger, facts[0].ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.NoError(t, svc.DeleteFact(ctx, owner, facts[0].ID))
	facts, _ = svc.ListFacts(ctx, owner)
	assert.Empty(t, facts)
}

func TestFactsIsolatedPerUser(t *testing.T) {
	svc, _ := newTestMemoryService(t, 10)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	_, _ = svc.SaveFact(ctx, alice, "alice fact")
	_, _ = svc.SaveFact(ctx, bob, "bob fact")

	facts, _ := svc.ListFacts(ctx, alice)
	require.Len(t, facts, 1)
	assert.Equal(t, "alice fact", facts[0].Content)
}

func TestParseExtractedFacts(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"wrapped", `{"facts": ["a", "b"]}`, []string{"a", "b"}},
		{"new_facts key", `{"new_facts": ["a"]}`, []string{"a"}},
		{"bare array", `["a", "b"]`, []string{"a", "b"}},
		{"fenced", "```json\n{\"facts\": [\"a\"]}\n```", []string{"a"}},
		{"empty", `{"facts": []}`, nil},
		{"blank entries dropped", `{"facts": ["a", "  ", ""]}`, []string{"a"}},
		{"garbage", "not json at all", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseExtractedFacts(tc.raw)
			if tc.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
