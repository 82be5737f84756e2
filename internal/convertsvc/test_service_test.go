package convertsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPService_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/handlers:convert" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization = %q", got)
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		resp := batchResponse{}
		for _, it := range req.Items {
			resp.Items = append(resp.Items, ItemResult{Name: it.Name, Content: "route:" + it.Content})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	svc, err := NewHTTPService(srv.URL+"/", "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	out, err := svc.ConvertHandlers(context.Background(), []Item{{Name: "hello", Content: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "hello" || out[0].Content != "route:x" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestHTTPService_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad batch", http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, _ := NewHTTPService(srv.URL, "", time.Second)
	_, err := svc.ExtractPolicies(context.Background(), nil)
	var pErr *PermanentError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	var n int32
	inner := &Fake{Handlers: func(ctx context.Context, items []Item) ([]ItemResult, error) {
		if atomic.AddInt32(&n, 1) < 3 {
			return nil, errors.New("503")
		}
		return []ItemResult{{Name: "a", Content: "ok"}}, nil
	}}
	svc := Wrap(inner, Retry(3, time.Millisecond))
	out, err := svc.ConvertHandlers(context.Background(), []Item{{Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || inner.Calls(OpConvertHandlers) != 3 {
		t.Fatalf("calls=%d out=%+v", inner.Calls(OpConvertHandlers), out)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	inner := &Fake{Policies: func(ctx context.Context, items []Item) ([]ItemResult, error) {
		return nil, NewPermanentError(errors.New("nope"))
	}}
	svc := Wrap(inner, Retry(5, time.Millisecond))
	if _, err := svc.ExtractPolicies(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if got := inner.Calls(OpExtractPolicies); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestCache_SendsOnlyMisses(t *testing.T) {
	inner := &Fake{}
	cache, err := Cache(16)
	if err != nil {
		t.Fatal(err)
	}
	svc := Wrap(inner, cache)
	ctx := context.Background()

	if _, err := svc.ConvertHandlers(ctx, []Item{{Name: "a", Content: "1"}}); err != nil {
		t.Fatal(err)
	}
	out, err := svc.ConvertHandlers(ctx, []Item{{Name: "a", Content: "1"}, {Name: "b", Content: "2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("want 2 results, got %d", len(out))
	}
	sent := inner.Sent(OpConvertHandlers)
	if len(sent) != 2 || sent[0].Name != "a" || sent[1].Name != "b" {
		t.Fatalf("unexpected items sent: %+v", sent)
	}
}

func TestCache_ChangedContentMisses(t *testing.T) {
	inner := &Fake{}
	cache, _ := Cache(16)
	svc := Wrap(inner, cache)
	ctx := context.Background()
	_, _ = svc.ConvertHandlers(ctx, []Item{{Name: "a", Content: "1"}})
	_, _ = svc.ConvertHandlers(ctx, []Item{{Name: "a", Content: "2"}})
	if got := inner.Calls(OpConvertHandlers); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestDecodeBatch_AcceptsBareArray(t *testing.T) {
	out, err := decodeBatch(`[{"name":"x","content":"y"}]`)
	if err != nil || len(out) != 1 || out[0].Name != "x" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if _, err := decodeBatch(`not json`); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}
