package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"daypack.app/internal/auth"
	"daypack.app/internal/tasks"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	jar     http.CookieJar
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = store.Create(context.Background(), &auth.User{
		Username:     "demo",
		Email:        "demo@daypack.app",
		Name:         "Demo User",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	svc, err := auth.NewService(store, "test-secret-test-secret-test!!")
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, tasks.NewInMemory())
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar

	return &apiClient{
		baseURL: srv.URL,
		client:  client,
		jar:     jar,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// obtainCSRF hits the token endpoint and returns the minted token.
func (c *apiClient) obtainCSRF() string {
	c.t.Helper()
	resp := c.get("/v1/auth/csrf", nil)
	payload := decode[struct {
		Token string `json:"token"`
	}](c.t, resp)
	if payload.Token == "" {
		c.t.Fatal("empty csrf token issued")
	}
	return payload.Token
}

// cookie returns the named cookie's value from the jar, "" when absent.
func (c *apiClient) cookie(name string) string {
	c.t.Helper()
	u, err := url.Parse(c.baseURL)
	if err != nil {
		c.t.Fatalf("parse base url: %v", err)
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *apiClient) login(username, password string) *http.Response {
	c.t.Helper()
	token := c.obtainCSRF()
	return c.post("/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, map[string]string{csrfHeader: token})
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type userResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

type taskResponse struct {
	Task tasks.Task `json:"task"`
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCSRFCookieMatchesBody(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainCSRF()
	if got := c.cookie("dp_csrftoken"); got != token {
		t.Fatalf("cookie %q != body token %q", got, token)
	}
}

func TestLoginFlow(t *testing.T) {
	c := newTestAPI(t)

	resp := c.login("demo", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	payload := decode[userResponse](t, resp)
	if payload.User.Username != "demo" {
		t.Fatalf("user %+v", payload.User)
	}
	if c.cookie("dp_session") == "" {
		t.Fatal("no session cookie set")
	}

	me := c.get("/v1/auth/me", nil)
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", me.StatusCode)
	}
	who := decode[userResponse](t, me)
	if who.User.Username != "demo" {
		t.Fatalf("me user %+v", who.User)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	c := newTestAPI(t)

	resp := c.login("demo", "nope")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Error != "invalid username or password" {
		t.Fatalf("error %q", body.Error)
	}
}

func TestLoginWithoutCSRFTokenRejected(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]string{
		"username": "demo", "password": "secret",
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Code != "csrf_rejected" {
		t.Fatalf("code %q, want csrf_rejected", body.Code)
	}
}

func TestLoginRotatesCSRFToken(t *testing.T) {
	c := newTestAPI(t)

	pre := c.obtainCSRF()
	resp := c.post("/v1/auth/login", map[string]string{
		"username": "demo", "password": "secret",
	}, map[string]string{csrfHeader: pre})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	resp.Body.Close()

	post := c.cookie("dp_csrftoken")
	if post == "" || post == pre {
		t.Fatalf("csrf cookie not rotated: pre=%q post=%q", pre, post)
	}

	// The consumed anonymous token must not authorize mutations anymore,
	// even with a matching cookie pair.
	stale := c.post("/v1/tasks", map[string]string{"title": "x"},
		map[string]string{csrfHeader: pre})
	if stale.StatusCode != http.StatusForbidden {
		t.Fatalf("stale token status %d", stale.StatusCode)
	}
	body := decode[errorResponse](t, stale)
	if body.Code != "csrf_rejected" {
		t.Fatalf("code %q, want csrf_rejected", body.Code)
	}

	// The rotated token works.
	ok := c.post("/v1/tasks", map[string]string{"title": "x"},
		map[string]string{csrfHeader: post})
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusCreated {
		t.Fatalf("rotated token status %d", ok.StatusCode)
	}
}

func TestTaskFlow(t *testing.T) {
	c := newTestAPI(t)

	resp := c.login("demo", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	resp.Body.Close()
	token := c.cookie("dp_csrftoken")

	created := c.post("/v1/tasks", map[string]string{
		"title": "ship the release",
		"notes": "before friday",
	}, map[string]string{csrfHeader: token})
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", created.StatusCode)
	}
	task := decode[taskResponse](t, created).Task
	if task.ID == "" || task.Done {
		t.Fatalf("task %+v", task)
	}

	completed := c.post("/v1/tasks/"+task.ID+"/complete", nil,
		map[string]string{csrfHeader: token})
	if completed.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d", completed.StatusCode)
	}
	done := decode[taskResponse](t, completed).Task
	if !done.Done || done.CompletedAt == nil {
		t.Fatalf("task %+v", done)
	}

	list := c.get("/v1/tasks", nil)
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", list.StatusCode)
	}
	listed := decode[struct {
		Tasks []tasks.Task `json:"tasks"`
	}](t, list)
	if len(listed.Tasks) != 1 || listed.Tasks[0].ID != task.ID {
		t.Fatalf("tasks %+v", listed.Tasks)
	}
}

func TestTasksRequireSession(t *testing.T) {
	c := newTestAPI(t)

	list := c.get("/v1/tasks", nil)
	defer list.Body.Close()
	if list.StatusCode != http.StatusUnauthorized {
		t.Fatalf("list status %d", list.StatusCode)
	}

	token := c.obtainCSRF()
	create := c.post("/v1/tasks", map[string]string{"title": "x"},
		map[string]string{csrfHeader: token})
	defer create.Body.Close()
	if create.StatusCode != http.StatusUnauthorized {
		t.Fatalf("create status %d", create.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	c := newTestAPI(t)

	resp := c.login("demo", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	resp.Body.Close()
	token := c.cookie("dp_csrftoken")

	out := c.post("/v1/auth/logout", nil, map[string]string{csrfHeader: token})
	out.Body.Close()
	if out.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", out.StatusCode)
	}
	if c.cookie("dp_session") != "" {
		t.Fatal("session cookie survived logout")
	}

	me := c.get("/v1/auth/me", nil)
	defer me.Body.Close()
	if me.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me status %d after logout", me.StatusCode)
	}
}

func TestLogoutToleratesMissingSession(t *testing.T) {
	c := newTestAPI(t)

	out := c.post("/v1/auth/logout", nil, nil)
	defer out.Body.Close()
	if out.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", out.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/me", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow %q", allow)
	}
}
