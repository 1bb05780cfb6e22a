package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	ctx := context.Background()
	var out []models.Event
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
	assert.NoError(t, c.Set(ctx, "k", []models.Event{{ID: "1"}}))
	assert.NoError(t, c.Invalidate(ctx))
	_, err = c.QueryKey(ctx, "filter", models.EventQuery{})
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, c.Close())
}

func TestBuildQueryKey(t *testing.T) {
	q := models.EventQuery{Text: "dub", Categories: []string{"techno"}, Limit: 5}

	a, err := BuildQueryKey(3, "filter", q)
	require.NoError(t, err)
	b, err := BuildQueryKey(3, "filter", q)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "events:v3:filter:"))

	other, err := BuildQueryKey(3, "filter", models.EventQuery{Text: "dnb"})
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	bumped, err := BuildQueryKey(4, "filter", q)
	require.NoError(t, err)
	assert.NotEqual(t, a, bumped)
}

func TestEncodeDecode(t *testing.T) {
	in := []models.Event{{Origin: "zbau", ID: "1", Title: "Dub Night", DateUnix: 1715547600}}

	data, err := Encode(in)
	require.NoError(t, err)

	var out []models.Event
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, Decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, &out))
}
