package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
)

type fakeHistoryCache struct {
	rows        map[string][]model.Message
	invalidated []string
}

func (c *fakeHistoryCache) Get(_ context.Context, sessionID string) ([]model.Message, bool, error) {
	rows, ok := c.rows[sessionID]
	return rows, ok, nil
}

func (c *fakeHistoryCache) Set(_ context.Context, sessionID string, messages []model.Message) error {
	c.rows[sessionID] = messages
	return nil
}

func (c *fakeHistoryCache) Invalidate(_ context.Context, sessionID string) error {
	delete(c.rows, sessionID)
	c.invalidated = append(c.invalidated, sessionID)
	return nil
}

func TestSaveExchangePublishes(t *testing.T) {
	messages := &fakeMessages{}
	pub := &fakePublisher{}
	cache := &fakeHistoryCache{rows: map[string][]model.Message{}}
	h := NewChatHistory(messages, pub, cache, nil)

	require.NoError(t, h.SaveExchange(context.Background(), "s1", "q", "a"))
	require.Len(t, pub.published, 2)
	assert.Equal(t, model.RoleUser, pub.published[0].Role)
	assert.Equal(t, model.RoleAssistant, pub.published[1].Role)
	assert.True(t, pub.published[1].CreatedAt.After(pub.published[0].CreatedAt))
	assert.Empty(t, messages.created)
	assert.Equal(t, []string{"s1"}, cache.invalidated)
}

func TestSaveExchangeFallsBackToDatabase(t *testing.T) {
	messages := &fakeMessages{}
	h := NewChatHistory(messages, &fakePublisher{err: errBoom}, nil, nil)

	require.NoError(t, h.SaveExchange(context.Background(), "s1", "q", "a"))
	assert.Len(t, messages.created, 2)

	recent, err := h.RecentUserQuestions(context.Background(), "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, recent)
}

func TestListUsesCache(t *testing.T) {
	messages := &fakeMessages{}
	cache := &fakeHistoryCache{rows: map[string][]model.Message{}}
	h := NewChatHistory(messages, nil, cache, nil)
	ctx := context.Background()

	require.NoError(t, messages.Create(ctx, &model.Message{SessionID: "s1", Role: model.RoleUser, Content: "one"}))
	got, err := h.List(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, cache.rows["s1"], 1)

	cache.rows["s1"] = []model.Message{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	got, err = h.List(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].Content)
}
