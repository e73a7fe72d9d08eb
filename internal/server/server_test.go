package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kobzarvs/multifind/internal/bridge"
	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/session"
	"github.com/kobzarvs/multifind/internal/store"
)

const pageURL = "https://example.com/article"

func newTestServer(t *testing.T, st *store.Store) (*Server, *httptest.Server) {
	t.Helper()
	d, err := dom.ParseString(`<html><head></head><body><p>cat dog cat</p></body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	srv := New(session.New(d), pageURL, WithStore(st))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "multifind.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func postMessage(t *testing.T, ts *httptest.Server, req bridge.Request) bridge.Response {
	t.Helper()
	body, _ := json.Marshal(req)
	res, err := http.Post(ts.URL+"/api/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var resp bridge.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	code, body := getBody(t, ts.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %s", code, body)
	}
}

func TestMessageFlow(t *testing.T) {
	_, ts := newTestServer(t, nil)

	if resp := postMessage(t, ts, bridge.Request{Action: "addSearch", Keyword: "cat"}); !resp.Success {
		t.Fatalf("addSearch = %+v", resp)
	}
	resp := postMessage(t, ts, bridge.Request{Action: "navigate", Keyword: "cat", Direction: "next"})
	if !resp.Success || *resp.CurrentIndex != 1 {
		t.Fatalf("navigate = %+v", resp)
	}

	code, body := getBody(t, ts.URL+"/document")
	if code != http.StatusOK || strings.Count(body, `class="multi-find-highlight multi-find-highlight-0`) != 2 {
		t.Fatalf("document = %s", body)
	}
	if !strings.Contains(body, `multi-find-highlight-0 multi-find-current-match"`) {
		t.Fatalf("current match not rendered")
	}

	code, body = getBody(t, ts.URL+"/api/matches?keyword=cat")
	if code != http.StatusOK || !strings.Contains(body, `"totalMatches":2`) {
		t.Fatalf("matches = %d %s", code, body)
	}
	code, _ = getBody(t, ts.URL+"/api/matches?keyword=ghost")
	if code != http.StatusNotFound {
		t.Fatalf("unknown keyword status = %d", code)
	}

	_, body = getBody(t, ts.URL+"/api/keywords")
	if !strings.Contains(body, `"keyword":"cat"`) {
		t.Fatalf("keywords = %s", body)
	}
}

func TestBadJSON(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res, err := http.Post(ts.URL+"/api/message", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestPersistAndRestore(t *testing.T) {
	st := openStore(t)
	_, ts := newTestServer(t, st)
	postMessage(t, ts, bridge.Request{Action: "addSearch", Keyword: "cat"})
	postMessage(t, ts, bridge.Request{Action: "addSearch", Keyword: "dog"})

	page, err := st.Load(context.Background(), pageURL)
	if err != nil || len(page.Keywords) != 2 {
		t.Fatalf("saved page = %+v, %v", page, err)
	}

	srv2, ts2 := newTestServer(t, st)
	if err := srv2.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	_, body := getBody(t, ts2.URL+"/api/keywords")
	if !strings.Contains(body, `"cat"`) || !strings.Contains(body, `"dog"`) {
		t.Fatalf("restored keywords = %s", body)
	}

	postMessage(t, ts2, bridge.Request{Action: "clearAll"})
	if _, err := st.Load(context.Background(), pageURL); err == nil {
		t.Fatalf("page kept after clearAll")
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d, err := dom.ParseString(`<p>x</p>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	srv := New(session.New(d), pageURL, WithLogger(zap.New(core)))

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, math.Inf(1))
	if n := logs.FilterMessage("encode JSON response").Len(); n != 1 {
		t.Fatalf("encode failures logged = %d, want 1", n)
	}
}
