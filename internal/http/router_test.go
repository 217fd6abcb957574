package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/service/document"
	"speech-to-notion/internal/service/stt/mock"
	"speech-to-notion/internal/store"
)

type fakeChecker struct{}

func (fakeChecker) ResolveTarget(raw string) (models.Target, error) {
	rest, ok := strings.CutPrefix(raw, "https://docs.test/")
	if !ok {
		return models.Target{}, document.ErrInvalidURL
	}
	page, anchor, _ := strings.Cut(rest, "#")
	return models.Target{PageID: page, AnchorID: anchor}, nil
}

func (fakeChecker) VerifyAccess(ctx context.Context, t models.Target) error {
	if t.PageID == "locked" {
		return document.ErrAccessDenied
	}
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *store.MemoryCursorStore) {
	t.Helper()
	cursors := store.NewMemoryCursorStore(time.Hour)
	r := NewRouter(Deps{
		Documents:     fakeChecker{},
		Transcription: mock.NewWithOptions(mock.Options{PollsUntilDone: 1}),
		Cursors:       cursors,
		Ready:         func() bool { return true },
	})
	return r, cursors
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestRouter_Health(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		rec, _ := do(t, r, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	notReady := NewRouter(Deps{Ready: func() bool { return false }})
	rec, _ := do(t, notReady, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestRouter_CheckAccess(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantBlock string
	}{
		{"anchor", `{"notion_url":"https://docs.test/page1#a1"}`, http.StatusOK, "a1"},
		{"page only", `{"notion_url":"https://docs.test/page1"}`, http.StatusOK, "page1"},
		{"invalid url", `{"notion_url":"https://elsewhere/page1"}`, http.StatusBadRequest, ""},
		{"denied", `{"notion_url":"https://docs.test/locked"}`, http.StatusForbidden, ""},
		{"missing", `{}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/notion/check-access", strings.NewReader(tt.body))
			rec, body := do(t, r, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantBlock != "" && body["block_id"] != tt.wantBlock {
				t.Errorf("block_id = %v, want %s", body["block_id"], tt.wantBlock)
			}
			if tt.wantCode != http.StatusOK && body["status"] != "error" {
				t.Errorf("expected error body, got %v", body)
			}
		})
	}
}

func TestRouter_BatchProxy(t *testing.T) {
	r, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "meeting.webm")
	_, _ = fw.Write([]byte("audio bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/gladia/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, body := do(t, r, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	audioURL, _ := body["audio_url"].(string)
	if audioURL == "" {
		t.Fatalf("upload: missing audio_url in %v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/gladia/transcription", strings.NewReader(`{"audio_url":"`+audioURL+`"}`))
	rec, body = do(t, r, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", rec.Code)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("submit: missing id in %v", body)
	}

	rec, body = do(t, r, httptest.NewRequest(http.MethodGet, "/v1/gladia/transcription/"+id, nil))
	if rec.Code != http.StatusOK || body["status"] == "" {
		t.Errorf("poll: got %d %v", rec.Code, body)
	}
}

func TestRouter_BatchProxyValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := do(t, r, httptest.NewRequest(http.MethodPost, "/v1/gladia/audio", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("upload without file: expected 400, got %d", rec.Code)
	}
	rec, _ = do(t, r, httptest.NewRequest(http.MethodPost, "/v1/gladia/transcription", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("submit without audio_url: expected 400, got %d", rec.Code)
	}

	noBatch := NewRouter(Deps{})
	rec, _ = do(t, noBatch, httptest.NewRequest(http.MethodGet, "/v1/gladia/transcription/x", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without batch client, got %d", rec.Code)
	}
}

func TestRouter_SessionCursor(t *testing.T) {
	r, cursors := newTestRouter(t)
	want := models.Cursor{PageID: "p", LastAppendedBlockID: "b"}
	_ = cursors.SaveCursor(context.Background(), "s1", want)

	rec, body := do(t, r, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/cursor", nil))
	if rec.Code != http.StatusOK || body["pageId"] != "p" || body["lastAppendedBlockId"] != "b" {
		t.Errorf("got %d %v", rec.Code, body)
	}

	rec, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/v1/sessions/missing/cursor", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
