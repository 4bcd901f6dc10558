package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/GoArmGo/MatchApp/internal/database/memory"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Verify(password, encoded string) bool { return encoded == "hashed:"+password }

// memoryFiles реализует usecase.FileStorage и AvatarReader.
type memoryFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *memoryFiles) UploadFile(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = contentType
	return "http://files.test/" + key, nil
}

func (f *memoryFiles) DeleteFile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *memoryFiles) GetFile(_ context.Context, key string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), f.types[key], nil
}

type testAPI struct {
	server *httptest.Server
	store  *memory.UserStore
	files  *memoryFiles
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memory.NewUserStore(logger)
	files := &memoryFiles{objects: map[string][]byte{}, types: map[string]string{}}

	engine := usecase.NewRelationshipEngine(store, logger, 0)
	identity := usecase.NewIdentityService(store, plainHasher{}, logger)
	avatars := usecase.NewAvatarService(files, nil, logger)
	profiles := usecase.NewProfileService(store, identity, avatars, logger, 0)
	queries := usecase.NewQueryService(store, logger)
	sessions := NewSessionManager(SessionConfig{
		Name:   "test_session",
		Secret: strings.Repeat("s", 32),
		MaxAge: 3600,
	})

	router := NewRouter(Handlers{
		Users:    NewUserHandler(profiles, queries, identity, sessions, make(chan struct{}, 2), logger),
		Matches:  NewMatchHandler(engine, queries, logger),
		Avatars:  NewAvatarHandler(files, logger),
		Sessions: sessions,
	}, logger, 0)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, store: store, files: files}
}

// client - браузер с собственной cookie-сессией.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func (a *testAPI) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: a.server.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body interface{}) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *client) send(req *http.Request) (int, []byte) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatal(err)
	}
	return resp.StatusCode, data
}

func (c *client) register(username string) accountResponse {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/register", map[string]interface{}{
		"username": username, "password": "Secret1!", "age": 30,
	})
	if status != http.StatusCreated {
		c.t.Fatalf("register %s: expected 201, got %d: %s", username, status, body)
	}
	var acc accountResponse
	decode(c.t, body, &acc)
	return acc
}

func decode(t *testing.T, body []byte, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func slugs(users []userResponse) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Slug
	}
	return out
}

func TestMatchFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.newClient(t)
	bob := api.newClient(t)
	alice.register("alice")
	bob.register("bob")

	status, body := alice.do(http.MethodPost, "/match/bob", nil)
	if status != http.StatusOK {
		t.Fatalf("like: expected 200, got %d: %s", status, body)
	}
	var result usecase.MatchResult
	decode(t, body, &result)
	if result.Matched {
		t.Fatalf("first like must not match")
	}

	status, body = bob.do(http.MethodGet, "/users/bob/requests/incoming", nil)
	if status != http.StatusOK {
		t.Fatalf("incoming: expected 200, got %d: %s", status, body)
	}
	var incoming []userResponse
	decode(t, body, &incoming)
	if len(incoming) != 1 || incoming[0].Slug != "alice" {
		t.Fatalf("expected alice in bob's incoming requests, got %v", slugs(incoming))
	}

	status, body = bob.do(http.MethodPost, "/requests/alice", map[string]string{"action": "accept"})
	if status != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", status, body)
	}

	status, body = alice.do(http.MethodGet, "/users/alice/requests/partners", nil)
	if status != http.StatusOK {
		t.Fatalf("partners: expected 200, got %d: %s", status, body)
	}
	var partners []userResponse
	decode(t, body, &partners)
	if len(partners) != 1 || partners[0].Slug != "bob" {
		t.Fatalf("expected bob as alice's partner, got %v", slugs(partners))
	}

	status, body = alice.do(http.MethodGet, "/users/bob", nil)
	if status != http.StatusOK {
		t.Fatalf("view: expected 200, got %d: %s", status, body)
	}
	var view profileResponse
	decode(t, body, &view)
	if !view.IsPartner || view.IsOwner {
		t.Fatalf("expected alice to see bob as partner, got %+v", view)
	}

	if status, body = bob.do(http.MethodPost, "/requests/alice", map[string]string{"action": "accept"}); status != http.StatusNotFound {
		t.Fatalf("accept without request: expected 404, got %d: %s", status, body)
	}

	if status, body = alice.do(http.MethodDelete, "/match/bob", nil); status != http.StatusNoContent {
		t.Fatalf("unmatch: expected 204, got %d: %s", status, body)
	}
	_, body = alice.do(http.MethodGet, "/users/alice/requests/partners", nil)
	decode(t, body, &partners)
	if len(partners) != 0 {
		t.Fatalf("expected no partners after unmatch, got %v", slugs(partners))
	}
}

func TestRejectAndCancel(t *testing.T) {
	api := newTestAPI(t)
	alice := api.newClient(t)
	bob := api.newClient(t)
	alice.register("alice")
	bob.register("bob")

	alice.do(http.MethodPost, "/match/bob", nil)
	if status, body := bob.do(http.MethodPost, "/requests/alice", map[string]string{"action": "reject"}); status != http.StatusNoContent {
		t.Fatalf("reject: expected 204, got %d: %s", status, body)
	}
	var out []userResponse
	_, body := alice.do(http.MethodGet, "/users/alice/requests/outgoing", nil)
	decode(t, body, &out)
	if len(out) != 0 {
		t.Fatalf("expected rejected request to be gone, got %v", slugs(out))
	}

	alice.do(http.MethodPost, "/match/bob", nil)
	if status, body := alice.do(http.MethodPost, "/requests/bob", map[string]string{"action": "cancel"}); status != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d: %s", status, body)
	}
	_, body = bob.do(http.MethodGet, "/users/bob/requests/incoming", nil)
	decode(t, body, &out)
	if len(out) != 0 {
		t.Fatalf("expected cancelled request to be gone, got %v", slugs(out))
	}

	if status, _ := alice.do(http.MethodPost, "/requests/bob", map[string]string{"action": "poke"}); status != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", status)
	}
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t)
	alice := api.newClient(t)
	alice.register("alice")
	bob := api.newClient(t)
	bob.register("bob")
	anonymous := api.newClient(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/match/bob"},
		{http.MethodDelete, "/match/bob"},
		{http.MethodGet, "/match/candidates"},
		{http.MethodDelete, "/users/bob"},
		{http.MethodGet, "/users/bob/requests/incoming"},
	} {
		if status, _ := anonymous.do(tc.method, tc.path, nil); status != http.StatusUnauthorized {
			t.Errorf("%s %s without session: expected 401, got %d", tc.method, tc.path, status)
		}
	}

	name := "mallory"
	if status, _ := alice.do(http.MethodPatch, "/users/bob", map[string]*string{"username": &name}); status != http.StatusForbidden {
		t.Fatalf("editing someone else's profile: expected 403, got %d", status)
	}
	if status, _ := alice.do(http.MethodDelete, "/users/bob", nil); status != http.StatusForbidden {
		t.Fatalf("deleting someone else's profile: expected 403, got %d", status)
	}
	if status, _ := alice.do(http.MethodGet, "/users/bob/requests/incoming", nil); status != http.StatusForbidden {
		t.Fatalf("reading someone else's requests: expected 403, got %d", status)
	}
	if status, _ := alice.do(http.MethodPost, "/match/nobody", nil); status != http.StatusNotFound {
		t.Fatalf("liking unknown user: expected 404, got %d", status)
	}
	if status, _ := alice.do(http.MethodPost, "/match/alice", nil); status != http.StatusBadRequest {
		t.Fatalf("liking yourself: expected 400, got %d", status)
	}

	if status, _ := anonymous.do(http.MethodGet, "/users/bob", nil); status != http.StatusOK {
		t.Fatalf("public profile: expected 200, got %d", status)
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	api := newTestAPI(t)
	c := api.newClient(t)

	status, body := c.do(http.MethodPost, "/register", map[string]interface{}{
		"username": "al", "password": "weak", "age": 10,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	var errBody errorResponse
	decode(t, body, &errBody)
	if len(errBody.Problems) != 3 {
		t.Fatalf("expected three field problems, got %+v", errBody.Problems)
	}

	c.register("alice")
	status, _ = api.newClient(t).do(http.MethodPost, "/register", map[string]interface{}{
		"username": "alice", "password": "Secret1!", "age": 30,
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate username: expected 409, got %d", status)
	}

	if status, _ := c.do(http.MethodPost, "/register", map[string]interface{}{"unknown": true}); status != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", status)
	}
}

func TestLoginLogout(t *testing.T) {
	api := newTestAPI(t)
	api.newClient(t).register("alice")

	c := api.newClient(t)
	if status, _ := c.do(http.MethodPost, "/login", loginRequest{Username: "alice", Password: "wrong"}); status != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", status)
	}
	if status, _ := c.do(http.MethodPost, "/login", loginRequest{Username: "nobody", Password: "Secret1!"}); status != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", status)
	}
	if status, body := c.do(http.MethodPost, "/login", loginRequest{Username: "alice", Password: "Secret1!"}); status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", status, body)
	}
	if status, _ := c.do(http.MethodGet, "/match/candidates", nil); status != http.StatusOK {
		t.Fatalf("candidates after login: expected 200, got %d", status)
	}
	if status, _ := c.do(http.MethodPost, "/logout", nil); status != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", status)
	}
	if status, _ := c.do(http.MethodGet, "/match/candidates", nil); status != http.StatusUnauthorized {
		t.Fatalf("candidates after logout: expected 401, got %d", status)
	}
}

func TestUpdateAndDeleteProfile(t *testing.T) {
	api := newTestAPI(t)
	alice := api.newClient(t)
	bob := api.newClient(t)
	alice.register("alice")
	bob.register("bob")
	alice.do(http.MethodPost, "/match/bob", nil)
	bob.do(http.MethodPost, "/match/alice", nil)

	name := "Alice Cooper"
	status, body := alice.do(http.MethodPatch, "/users/alice", map[string]*string{"username": &name})
	if status != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", status, body)
	}
	var acc accountResponse
	decode(t, body, &acc)
	if acc.Slug != "alice-cooper" {
		t.Fatalf("expected slug alice-cooper, got %q", acc.Slug)
	}

	if status, body = alice.do(http.MethodDelete, "/users/alice-cooper", nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d: %s", status, body)
	}
	if status, _ = bob.do(http.MethodGet, "/users/alice-cooper", nil); status != http.StatusNotFound {
		t.Fatalf("deleted profile: expected 404, got %d", status)
	}
	var partners []userResponse
	_, body = bob.do(http.MethodGet, "/users/bob/requests/partners", nil)
	decode(t, body, &partners)
	if len(partners) != 0 {
		t.Fatalf("expected bob to have no partners after alice left, got %v", slugs(partners))
	}
}

func TestSearchAndCandidates(t *testing.T) {
	api := newTestAPI(t)
	me := api.newClient(t)
	me.register("meg")
	for _, name := range []string{"anna", "hannah", "bob"} {
		api.newClient(t).register(name)
	}

	status, body := me.do(http.MethodGet, "/users?username=ann", nil)
	if status != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", status, body)
	}
	var found []userResponse
	decode(t, body, &found)
	if len(found) != 2 {
		t.Fatalf("expected anna and hannah, got %v", slugs(found))
	}

	if status, _ := me.do(http.MethodGet, "/users?min_age=abc", nil); status != http.StatusBadRequest {
		t.Fatalf("bad min_age: expected 400, got %d", status)
	}

	me.do(http.MethodPost, "/match/bob", nil)
	status, body = me.do(http.MethodGet, "/match/candidates?all=true", nil)
	if status != http.StatusOK {
		t.Fatalf("candidates: expected 200, got %d: %s", status, body)
	}
	var candidates []userResponse
	decode(t, body, &candidates)
	if len(candidates) != 2 {
		t.Fatalf("expected anna and hannah as candidates, got %v", slugs(candidates))
	}
	for _, c := range candidates {
		if c.Slug == "bob" || c.Slug == "meg" {
			t.Fatalf("unexpected candidate %s", c.Slug)
		}
	}

	_, body = me.do(http.MethodGet, "/match/candidates?limit=1", nil)
	decode(t, body, &candidates)
	if len(candidates) != 1 {
		t.Fatalf("expected one sampled candidate, got %d", len(candidates))
	}
}

func TestRegisterWithAvatar(t *testing.T) {
	api := newTestAPI(t)
	c := api.newClient(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"username": "alice", "password": "Secret1!", "age": "30"} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := mw.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(png); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, c.base+"/register", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := c.send(req)
	if status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", status, body)
	}
	var acc accountResponse
	decode(t, body, &acc)
	if !strings.HasPrefix(acc.AvatarURL, "/avatars/") {
		t.Fatalf("expected avatar url, got %q", acc.AvatarURL)
	}

	status, got := c.do(http.MethodGet, acc.AvatarURL, nil)
	if status != http.StatusOK {
		t.Fatalf("get avatar: expected 200, got %d", status)
	}
	if !bytes.Equal(got, png) {
		t.Fatalf("avatar bytes differ")
	}
	if status, _ := c.do(http.MethodGet, "/avatars/missing.png", nil); status != http.StatusNotFound {
		t.Fatalf("missing avatar: expected 404, got %d", status)
	}
}
