package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/postvault/internal/checksum"
	"github.com/starford/postvault/internal/conformance"
	"github.com/starford/postvault/internal/postservice"
	"github.com/starford/postvault/internal/testutil"
)

// testEnv sets up a temp content root, SQLite index, service, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*postservice.Service, http.Handler) {
	t.Helper()
	svc, router, _ := testEnvWithRoot(t, authToken != "", authToken, nil)
	return svc, router
}

func testEnvWithRoot(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*postservice.Service, http.Handler, string) {
	t.Helper()
	root, store := testutil.TestContent(t)
	svc := postservice.NewService(store, testutil.TestDB(t))
	return svc, NewRouter(svc, authEnabled, authToken, sseHandler), root
}

func doc(title, body string, tags ...string) string {
	quoted := make([]string, len(tags))
	for i, tg := range tags {
		quoted[i] = fmt.Sprintf("%q", tg)
	}
	return fmt.Sprintf(`+++
date = 2025-03-14T09:30:00+09:00
draft = false
title = %q
tags = [%s]
+++
%s
`, title, strings.Join(quoted, ", "), body)
}

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func create(t *testing.T, router http.Handler, path, content string) PostDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/posts", CreatePostRequest{Path: path, Content: content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s = %d, body = %s", path, w.Code, w.Body.String())
	}
	var post PostDetail
	_ = json.Unmarshal(w.Body.Bytes(), &post)
	return post
}

func TestCreateAndGetPost(t *testing.T) {
	_, router := testEnv(t, "")
	created := create(t, router, "hello/index.md", doc("Hello", "Teaser\n\n<!--more-->\n\nRest"))

	w := do(t, router, http.MethodGet, "/posts/hello/index.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := w.Header().Get("ETag"); got != checksum.ETag(created.Checksum) {
		t.Errorf("etag = %q", got)
	}
	var post PostDetail
	_ = json.Unmarshal(w.Body.Bytes(), &post)
	if post.Title != "Hello" {
		t.Errorf("title = %q, want Hello", post.Title)
	}
	if !strings.Contains(post.Summary, "Teaser") || strings.Contains(post.Summary, "Rest") {
		t.Errorf("summary = %q", post.Summary)
	}
}

func TestGetPost_EncodedPath(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "hello/index.md", doc("Hello", "body"))

	w := do(t, router, http.MethodGet, "/posts/hello%2Findex.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded get = %d", w.Code)
	}
}

func TestGetPost_NotModified(t *testing.T) {
	_, router := testEnv(t, "")
	created := create(t, router, "a.md", doc("A", "body"))

	w := do(t, router, http.MethodGet, "/posts/a.md", nil, "If-None-Match", checksum.ETag(created.Checksum))
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", w.Code)
	}
}

func TestCreatePost_Invalid(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/posts", CreatePostRequest{Path: "bad.md", Content: "no front matter"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid create = %d, want 422", w.Code)
	}
	var resp ValidationErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Report == nil || resp.Report.OK() {
		t.Fatalf("report = %+v", resp.Report)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "dup.md", doc("Dup", "a"))

	w := do(t, router, http.MethodPost, "/posts", CreatePostRequest{Path: "dup.md", Content: doc("Dup", "a")})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")
	created := create(t, router, "lock.md", doc("Lock", "v1"))

	w := do(t, router, http.MethodPut, "/posts/lock.md", UpdatePostRequest{Content: doc("Lock", "v2")},
		"If-Match", checksum.ETag(created.Checksum))
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPut, "/posts/lock.md", UpdatePostRequest{Content: doc("Lock", "v3")},
		"If-Match", created.Checksum)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "nolock.md", doc("No lock", "v1"))

	w := do(t, router, http.MethodPut, "/posts/nolock.md", UpdatePostRequest{Content: doc("No lock", "v2")})
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestUpdatePost_Invalid(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "a.md", doc("A", "v1"))

	bad := strings.Replace(doc("A", "see [1]"), "draft = false", `draft = "no"`, 1)
	w := do(t, router, http.MethodPut, "/posts/a.md", UpdatePostRequest{Content: bad})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid update = %d, want 422", w.Code)
	}
	var resp ValidationErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	rules := map[string]bool{}
	for _, is := range resp.Report.Issues {
		rules[is.Rule] = true
	}
	if !rules[conformance.RuleBoolean] || !rules[conformance.RuleCitations] {
		t.Errorf("rules = %v, want boolean and citations", rules)
	}
}

func TestUpdatePost_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/posts/ghost.md", UpdatePostRequest{Content: doc("Ghost", "x")})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestDeletePost(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "bye.md", doc("Bye", "gone"))

	if w := do(t, router, http.MethodDelete, "/posts/bye.md", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/posts/bye.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/posts/bye.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestListPosts(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "a.md", doc("A", "alpha", "go"))
	create(t, router, "b.md", doc("B", "beta", "rust"))
	create(t, router, "c.md", strings.Replace(doc("C", "draft"), "draft = false", "draft = true", 1))

	w := do(t, router, http.MethodGet, "/posts?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp PostListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Posts) != 2 {
		t.Errorf("published = %d/%d, want 2", len(resp.Posts), resp.Total)
	}

	w = do(t, router, http.MethodGet, "/posts?drafts=true", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 {
		t.Errorf("with drafts total = %d, want 3", resp.Total)
	}

	w = do(t, router, http.MethodGet, "/posts?tag=go", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Posts[0].Path != "a.md" {
		t.Errorf("tag filter = %+v", resp.Posts)
	}
}

func TestTagsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "a.md", doc("A", "x", "go", "web"))
	create(t, router, "b.md", doc("B", "y", "go"))

	w := do(t, router, http.MethodGet, "/tags", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tags = %d", w.Code)
	}
	var resp TagsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	counts := map[string]int{}
	for _, tc := range resp.Tags {
		counts[tc.Tag] = tc.Count
	}
	if counts["go"] != 2 || counts["web"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "find.md", doc("Find", "uniquetoken here"))

	w := do(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("search results = %d, want 1", len(resp.Results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/validate", ValidateRequest{Content: doc("Ok", "fine")})
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d", w.Code)
	}
	var rep conformance.Report
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if !rep.OK() {
		t.Errorf("issues = %+v", rep.Issues)
	}

	w = do(t, router, http.MethodPost, "/validate", ValidateRequest{Content: "+++\ntitle = \"x\"\n"})
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.OK() {
		t.Error("unterminated front matter should not validate")
	}
}

func TestServeCover(t *testing.T) {
	_, router, root := testEnvWithRoot(t, false, "", nil)
	testutil.WriteFile(t, root, "hello/cover.png", "\x89PNG fake")

	w := do(t, router, http.MethodGet, "/covers/hello/cover.png", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cover = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content-type = %q", ct)
	}
	if w.Body.String() != "\x89PNG fake" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestServeCover_Rejected(t *testing.T) {
	_, router, root := testEnvWithRoot(t, false, "", nil)
	testutil.WriteFile(t, root, "a.md", doc("A", "x"))

	if w := do(t, router, http.MethodGet, "/covers/a.md", nil); w.Code != http.StatusBadRequest {
		t.Errorf("markdown via covers = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/covers/missing.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing cover = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/covers/..%2F..%2Fetc%2Fx.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("traversal = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/posts", CreatePostRequest{Path: "auth.md", Content: doc("Auth", "x")},
		"Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/posts", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/posts", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/posts", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router, _ := testEnvWithRoot(t, true, "secret", blockingSSE)
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router, _ := testEnvWithRoot(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router, _ := testEnvWithRoot(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForEventStream(t *testing.T) {
	_, router := testEnv(t, "tok")
	w := do(t, router, http.MethodGet, "/posts?access_token=tok", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on JSON route = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestServeCover_PublicWhenAuthEnabled(t *testing.T) {
	_, router, root := testEnvWithRoot(t, true, "secret", nil)
	testutil.WriteFile(t, root, "hello/cover.png", "\x89PNG fake")

	if w := do(t, router, http.MethodGet, "/covers/hello/cover.png", nil); w.Code != http.StatusOK {
		t.Errorf("cover without token = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/posts", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("posts without token = %d, want 401", w.Code)
	}
}

func TestCreatePost_RequiresJSON(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/posts", CreatePostRequest{Path: "a.md", Content: doc("A", "x")},
		"Content-Type", "text/plain")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain create = %d, want 415", w.Code)
	}
}
