package cache

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutGet(t *testing.T) {
	store := NewMemStore(0)
	entry := &Entry{Key: "GET http://example.com/", Status: 200, Header: make(http.Header)}

	sink, err := store.Put(entry)
	require.NoError(t, err)
	_, err = sink.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	got, body, ok := store.Get(entry.Key)
	require.True(t, ok)
	assert.Equal(t, entry, got)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMemStoreMissingKey(t *testing.T) {
	store := NewMemStore(0)
	_, _, ok := store.Get("GET http://nowhere/")
	assert.False(t, ok)
}

func TestMemStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemStore(10)

	put := func(key string, n int) {
		sink, err := store.Put(&Entry{Key: key, Header: make(http.Header)})
		require.NoError(t, err)
		_, err = sink.Write(make([]byte, n))
		require.NoError(t, err)
		require.NoError(t, sink.Close())
	}

	put("a", 5)
	put("b", 5)
	// touching "a" makes "b" the least recently used
	_, _, ok := store.Get("a")
	require.True(t, ok)

	put("c", 5) // must evict "b", not "a", to stay under the 10-byte cap

	_, _, ok = store.Get("a")
	assert.True(t, ok, "a was touched most recently and should survive")
	_, _, ok = store.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, _, ok = store.Get("c")
	assert.True(t, ok)
}

func TestMemStoreRemove(t *testing.T) {
	store := NewMemStore(0)
	sink, err := store.Put(&Entry{Key: "k", Header: make(http.Header)})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	store.Remove("k")
	_, _, ok := store.Get("k")
	assert.False(t, ok)
}

func TestComputeDecisionNoCandidate(t *testing.T) {
	d := ComputeDecision(time.Now(), make(http.Header), nil)
	assert.True(t, d.UseNetwork)
	assert.False(t, d.OnlyIfCached)
}

func TestComputeDecisionNoCandidateOnlyIfCached(t *testing.T) {
	req := make(http.Header)
	req.Set("Cache-Control", "only-if-cached")
	d := ComputeDecision(time.Now(), req, nil)
	assert.True(t, d.OnlyIfCached)
	assert.False(t, d.UseNetwork)
}

func TestComputeDecisionFreshServesCached(t *testing.T) {
	now := time.Now()
	cached := make(http.Header)
	cached.Set("Cache-Control", "max-age=60")
	entry := &Entry{Header: cached, ResponseTime: now.Add(-10 * time.Second)}

	d := ComputeDecision(now, make(http.Header), entry)
	assert.True(t, d.ServeCached)
}

func TestComputeDecisionStaleWithValidatorsIsConditional(t *testing.T) {
	now := time.Now()
	cached := make(http.Header)
	cached.Set("Cache-Control", "max-age=60")
	cached.Set("ETag", `"abc"`)
	entry := &Entry{Header: cached, ResponseTime: now.Add(-120 * time.Second)}

	d := ComputeDecision(now, make(http.Header), entry)
	assert.True(t, d.Conditional)
	assert.True(t, d.UseNetwork)
	assert.False(t, d.ServeCached)
}

func TestComputeDecisionStaleWithoutValidators(t *testing.T) {
	now := time.Now()
	cached := make(http.Header)
	cached.Set("Cache-Control", "max-age=60")
	entry := &Entry{Header: cached, ResponseTime: now.Add(-120 * time.Second)}

	d := ComputeDecision(now, make(http.Header), entry)
	assert.True(t, d.UseNetwork)
	assert.False(t, d.Conditional)
}

func TestComputeDecisionRequestMaxAgeForcesRevalidation(t *testing.T) {
	now := time.Now()
	cached := make(http.Header)
	cached.Set("Cache-Control", "max-age=3600")
	cached.Set("ETag", `"abc"`)
	entry := &Entry{Header: cached, ResponseTime: now.Add(-30 * time.Second)}

	req := make(http.Header)
	req.Set("Cache-Control", "max-age=10")

	d := ComputeDecision(now, req, entry)
	assert.True(t, d.Conditional)
}

func TestComputeDecisionNoCacheForcesConditional(t *testing.T) {
	now := time.Now()
	cached := make(http.Header)
	cached.Set("ETag", `"abc"`)
	entry := &Entry{Header: cached, ResponseTime: now}

	req := make(http.Header)
	req.Set("Cache-Control", "no-cache")

	d := ComputeDecision(now, req, entry)
	assert.True(t, d.UseNetwork)
	assert.True(t, d.Conditional)
}

func TestBuildConditionalHeaders(t *testing.T) {
	cached := make(http.Header)
	cached.Set("ETag", `"abc"`)
	cached.Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")

	h := BuildConditionalHeaders(cached)
	assert.Equal(t, `"abc"`, h.Get("If-None-Match"))
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", h.Get("If-Modified-Since"))
}

func TestMergeHeadersPrefersCachedContentSpecific(t *testing.T) {
	cached := make(http.Header)
	cached.Set("Content-Type", "text/html")
	cached.Set("ETag", `"old"`)
	cached.Set("Connection", "keep-alive")

	network := make(http.Header)
	network.Set("ETag", `"old"`)
	network.Set("Date", "Wed, 21 Oct 2015 07:28:00 GMT")
	network.Set("Connection", "close")

	merged := MergeHeaders(cached, network)
	assert.Equal(t, "text/html", merged.Get("Content-Type"))
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", merged.Get("Date"))
	assert.Empty(t, merged.Get("Connection"), "hop-by-hop headers must be dropped from the merge")
}

func TestInvalidatesMutatingMethods(t *testing.T) {
	assert.True(t, Invalidates(http.MethodPost))
	assert.True(t, Invalidates(http.MethodPut))
	assert.True(t, Invalidates(http.MethodDelete))
	assert.False(t, Invalidates(http.MethodGet))
	assert.False(t, Invalidates(http.MethodHead))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "GET http://example.com/", Key("GET", "http://example.com/"))
}
