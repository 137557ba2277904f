package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/quota-relay/internal/bucket"
	"github.com/omarluq/quota-relay/internal/store"
)

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	created := epoch.Add(-time.Minute)
	in := bucket.Bucket{Tokens: 7.25, MaxTokens: 15, RefillRate: 1.0 / 3, LastRefill: epoch.Add(123 * time.Nanosecond)}

	doc, err := store.EncodeJSONForTest(created, in)
	require.NoError(t, err)
	assert.Contains(t, doc, `"max_tokens":15`)

	out, gotCreated, err := store.DecodeJSONForTest(doc)
	require.NoError(t, err)
	assert.InDelta(t, in.Tokens, out.Tokens, 1e-12)
	assert.Equal(t, in.MaxTokens, out.MaxTokens)
	assert.InDelta(t, in.RefillRate, out.RefillRate, 1e-12)
	assert.True(t, in.LastRefill.Equal(out.LastRefill), "timestamps keep nanosecond precision")
	assert.True(t, created.Equal(gotCreated))
}

func TestJSONCodec_Rejects(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{
		"not json",
		`{"tokens":1}`,
		`{"tokens":1,"max_tokens":2,"refill_rate":1,"last_refill":0}`,
	} {
		_, _, err := store.DecodeJSONForTest(doc)
		require.ErrorIs(t, err, store.ErrSerializationFailed, doc)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "taapi:rsi", store.Key{API: "taapi", Endpoint: "rsi"}.String())
	assert.Equal(t, "grok:default", store.Key{API: "grok"}.String())

	key, ok := store.ParseKey("twitter:users:lookup")
	require.True(t, ok)
	assert.Equal(t, store.Key{API: "twitter", Endpoint: "users:lookup"}, key)

	_, ok = store.ParseKey("nocolon")
	assert.False(t, ok)
	_, ok = store.ParseKey(":endpoint")
	assert.False(t, ok)
}
