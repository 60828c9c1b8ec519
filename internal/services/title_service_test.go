package services

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Planning a trip", cleanTitle(`  "Planning a trip"  `))
	assert.Equal(t, "Planning a trip", cleanTitle(`'Planning a trip'`))
	assert.Equal(t, "", cleanTitle(`""`))
	assert.Len(t, cleanTitle(strings.Repeat("x", 100)), 60)
}

func TestGenerateTitleUpdatesConversation(t *testing.T) {
	db := testDB(t)
	userID := uuid.New()
	conv := models.Conversation{UserID: userID, Title: "New conversation"}
	require.NoError(t, db.Create(&conv).Error)

	client := fakeCompletions(t, `"Tea Brewing Basics"`)
	svc := NewTitleService(db, zap.NewNop())
	svc.GenerateTitle(client, "gpt-4o", conv.ID, "how do I brew green tea?")

	var updated models.Conversation
	require.NoError(t, db.First(&updated, "id = ?", conv.ID).Error)
	assert.Equal(t, "Tea Brewing Basics", updated.Title)
}

func TestGenerateTitleFailureLeavesTitle(t *testing.T) {
	db := testDB(t)
	conv := models.Conversation{UserID: uuid.New(), Title: "New conversation"}
	require.NoError(t, db.Create(&conv).Error)

	// The provider returns an empty title; it must not clobber the existing
	// one.
	client := fakeCompletions(t)
	svc := NewTitleService(db, zap.NewNop())
	svc.GenerateTitle(client, "gpt-4o", conv.ID, "hello")

	var updated models.Conversation
	require.NoError(t, db.First(&updated, "id = ?", conv.ID).Error)
	assert.Equal(t, "New conversation", updated.Title)
}
