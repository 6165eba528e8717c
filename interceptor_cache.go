package fastclient

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/searchktools/fastclient/internal/cache"
)

// cacheDrainTimeout bounds how long an early Close on a cache-writing
// response body waits for the remaining network bytes to drain before
// abandoning the cache write.
const cacheDrainTimeout = 2 * time.Second

// cacheInterceptor implements the RFC 7234-flavored cache stage: it
// looks up a candidate entry, computes a caching decision, and either
// serves the cache directly, forwards to the
// network (optionally streaming the response into the cache as it is
// read), or issues a conditional revalidation and merges headers on a
// 304. Disabled entirely (pure pass-through) when no CacheStore is
// configured.
type cacheInterceptor struct {
	client *Client
}

var _ Interceptor = (*cacheInterceptor)(nil)

func (ci *cacheInterceptor) Intercept(chain Chain) (*Response, error) {
	store := ci.client.cacheStore
	req := chain.Request()
	if store == nil {
		return chain.Proceed(req)
	}

	key := cache.Key(req.Method, req.URL.String())
	candidate, candidateBody, hasCandidate := store.Get(key)
	if !hasCandidate {
		candidate = nil
	}

	decision := cache.ComputeDecision(time.Now(), req.Header, candidate)

	switch {
	case decision.OnlyIfCached:
		if candidateBody != nil {
			candidateBody.Close()
		}
		ci.client.eventListener().SatisfactionFailure(chain.Call())
		return synthesizedGatewayTimeout(req), nil

	case decision.ServeCached:
		resp := cachedResponse(req, candidate, candidateBody)
		ci.client.eventListener().CacheHit(chain.Call(), resp)
		return resp, nil

	case decision.Conditional:
		condReq := req.clone()
		for k, vs := range cache.BuildConditionalHeaders(candidate.Header) {
			condReq.Header[k] = vs
		}
		network, err := chain.Proceed(condReq)
		if err != nil {
			if candidateBody != nil {
				candidateBody.Close()
			}
			return nil, err
		}
		if network.StatusCode == http.StatusNotModified {
			network.Close()
			mergedHeader := cache.MergeHeaders(candidate.Header, network.Header)
			entry := &cache.Entry{
				Key:          key,
				Status:       candidate.Status,
				Header:       mergedHeader,
				RequestTime:  network.SentAt,
				ResponseTime: network.ReceivedAt,
			}
			body := rebufferAndStore(store, entry, candidateBody)
			resp := &Response{
				Request:    req,
				StatusCode: candidate.Status,
				Header:     mergedHeader,
				Body:       body,
				SentAt:     network.SentAt,
				ReceivedAt: network.ReceivedAt,
				NetworkResponse: &Response{StatusCode: network.StatusCode, Header: network.Header},
			}
			ci.client.eventListener().CacheConditionalHit(chain.Call(), resp, network)
			return resp, nil
		}
		if candidateBody != nil {
			candidateBody.Close()
		}
		ci.client.eventListener().CacheMiss(chain.Call())
		return ci.maybeStore(store, key, req.Method, network), nil

	default: // UseNetwork, no candidate with validators to condition on
		if candidateBody != nil {
			candidateBody.Close()
		}
		network, err := chain.Proceed(req)
		if err != nil {
			return nil, err
		}
		ci.client.eventListener().CacheMiss(chain.Call())
		return ci.maybeStore(store, key, req.Method, network), nil
	}
}

// maybeStore wraps resp's body with a cache-writing sink when the
// response is cacheable, and removes any stored entry for key when the
// method is one that invalidates the cache on success.
func (ci *cacheInterceptor) maybeStore(store cache.Store, key, method string, resp *Response) *Response {
	if cache.Invalidates(method) {
		if resp.IsSuccessful() {
			store.Remove(key)
		}
		return resp
	}
	if !isCacheable(method, resp) {
		return resp
	}

	entry := &cache.Entry{
		Key:          key,
		Status:       resp.StatusCode,
		Header:       resp.Header.Clone(),
		RequestTime:  resp.SentAt,
		ResponseTime: resp.ReceivedAt,
	}
	sink, err := store.Put(entry)
	if err != nil {
		return resp
	}
	resp.Body = &cacheWritingBody{underlying: resp.Body, sink: sink}
	return resp
}

func isCacheable(method string, resp *Response) bool {
	if method != http.MethodGet {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return !cacheControlHasNoStore(resp.Header.Get("Cache-Control"))
}

func cacheControlHasNoStore(cc string) bool {
	for _, part := range strings.Split(cc, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "no-store") {
			return true
		}
	}
	return false
}

func synthesizedGatewayTimeout(req *Request) *Response {
	now := time.Now()
	return &Response{
		Request:    req,
		StatusCode: http.StatusGatewayTimeout,
		Header:     make(http.Header),
		Body:       http.NoBody,
		SentAt:     now,
		ReceivedAt: now,
	}
}

func cachedResponse(req *Request, candidate *cache.Entry, body io.ReadCloser) *Response {
	return &Response{
		Request:    req,
		StatusCode: candidate.Status,
		Header:     candidate.Header.Clone(),
		Body:       body,
		SentAt:     candidate.RequestTime,
		ReceivedAt: candidate.ResponseTime,
	}
}

// rebufferAndStore reads the cached body fully (it is small and already
// local), commits the refreshed entry with the same bytes, and returns a
// fresh reader over them for the caller to consume.
func rebufferAndStore(store cache.Store, entry *cache.Entry, cached io.ReadCloser) io.ReadCloser {
	defer cached.Close()
	buf, _ := io.ReadAll(cached)
	sink, err := store.Put(entry)
	if err == nil {
		sink.Write(buf)
		sink.Close()
	}
	return io.NopCloser(bytes.NewReader(buf))
}

// cacheWritingBody streams a network response body into the cache sink
// as the caller reads it: each read copies bytes into the
// sink; EOF commits the write; an early Close attempts a bounded drain
// before abandoning the cache entry.
type cacheWritingBody struct {
	underlying io.ReadCloser
	sink       io.WriteCloser
	done       bool
}

func (b *cacheWritingBody) Read(p []byte) (int, error) {
	n, err := b.underlying.Read(p)
	if n > 0 {
		b.sink.Write(p[:n])
	}
	if err == io.EOF && !b.done {
		b.done = true
		b.sink.Close()
	}
	return n, err
}

func (b *cacheWritingBody) Close() error {
	if !b.done {
		b.done = true
		drained := make(chan struct{})
		go func() {
			io.Copy(b.sink, b.underlying)
			close(drained)
		}()
		select {
		case <-drained:
			b.sink.Close()
		case <-time.After(cacheDrainTimeout):
			// abandon: leave the sink unclosed so it is never committed.
		}
	}
	return b.underlying.Close()
}
