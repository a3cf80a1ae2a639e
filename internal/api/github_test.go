package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Ekronos-Agents/internal/config"
	"Ekronos-Agents/internal/session"
)

// fakeGitHub 模拟 OAuth 与 REST 接口，按顺序记录 "METHOD path" 调用。
type fakeGitHub struct {
	mu      sync.Mutex
	calls   []string
	put     map[string]any
	pulls   map[string]any
	refCode int
}

// recorded 返回调用序列以及最后一次 PUT 与 PR 请求体的快照。
func (f *fakeGitHub) recorded() ([]string, map[string]any, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.put, f.pulls
}

func (f *fakeGitHub) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		path := r.URL.Path
		switch {
		case path == "/login/oauth/access_token":
			_, _ = w.Write([]byte(`{"access_token":"gho_token"}`))
		case path == "/user":
			if r.Header.Get("Authorization") != "Bearer gho_token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"login":"octo"}`))
		case strings.HasSuffix(path, "/forks"):
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"full_name":"octo/Hello-World","html_url":"https://github.com/octo/Hello-World"}`))
		case strings.Contains(path, "/git/ref/heads/"):
			_, _ = w.Write([]byte(`{"object":{"sha":"base-sha"}}`))
		case strings.HasSuffix(path, "/git/refs"):
			code := f.refCode
			if code == 0 {
				code = http.StatusCreated
			}
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"message":"Reference already exists"}`))
		case strings.Contains(path, "/contents/") && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case strings.Contains(path, "/contents/") && r.Method == http.MethodPut:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.put = body
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		case strings.HasSuffix(path, "/pulls"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.pulls = body
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number":7,"html_url":"https://github.com/octo/Hello-World/pull/7","state":"open"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func githubConfig(base string) *config.Config {
	cfg := testConfig()
	cfg.Server.Deployment = config.DeploymentStudio
	cfg.GitHub.APIBaseURL = base
	cfg.GitHub.OAuthBaseURL = base
	cfg.GitHub.ClientID = "client-id"
	cfg.GitHub.ClientSecret = "client-secret"
	return cfg
}

// loggedIn 直接在会话管理器中创建会话，返回对应的 cookie。
func loggedIn(t *testing.T, cfg *config.Config, sessions *session.Manager) *http.Cookie {
	t.Helper()
	value, err := sessions.Create(context.Background(), "gho_token")
	require.NoError(t, err)
	return &http.Cookie{Name: cfg.Session.CookieName, Value: value}
}

func TestOAuthStartRedirects(t *testing.T) {
	cfg := githubConfig("https://gh.example")
	_, ts := newTestServer(t, cfg, Dependencies{})

	resp, _ := call(t, http.MethodGet, ts.URL+"/api/auth/github/start", nil)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "gh.example", loc.Host)
	assert.Equal(t, "/login/oauth/authorize", loc.Path)
	assert.Equal(t, "client-id", loc.Query().Get("client_id"))
	assert.Equal(t, "public_repo", loc.Query().Get("scope"))
	assert.Equal(t, cfg.Server.BackendURL+"/api/auth/github/callback", loc.Query().Get("redirect_uri"))
	assert.NotEmpty(t, loc.Query().Get("state"))

	cfg = githubConfig("https://gh.example")
	cfg.GitHub.ClientID = ""
	_, ts = newTestServer(t, cfg, Dependencies{})
	resp, body := call(t, http.MethodGet, ts.URL+"/api/auth/github/start", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Missing GITHUB_CLIENT_ID", msg)
}

func TestOAuthCallbackSessionLifecycle(t *testing.T) {
	gh := &fakeGitHub{}
	cfg := githubConfig(gh.start(t))
	_, ts := newTestServer(t, cfg, Dependencies{})

	resp, body := call(t, http.MethodGet, ts.URL+"/api/auth/github/callback", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Missing code", msg)

	resp, _ = call(t, http.MethodGet, ts.URL+"/api/auth/github/callback?code=abc", nil)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, cfg.Server.FrontendURL, resp.Header.Get("Location"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cfg.Session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 86400, cookie.MaxAge)

	resp, body = call(t, http.MethodGet, ts.URL+"/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, map[string]any{"login": "octo"}, body)

	resp, _ = call(t, http.MethodPost, ts.URL+"/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, http.MethodGet, ts.URL+"/api/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	code, _ := errorOf(t, body)
	assert.Equal(t, "UNAUTHORIZED", code)
}

func TestMeRequiresSession(t *testing.T) {
	_, ts := newTestServer(t, githubConfig("https://gh.example"), Dependencies{})
	resp, _ := call(t, http.MethodGet, ts.URL+"/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = call(t, http.MethodGet, ts.URL+"/api/me", nil, &http.Cookie{Name: "sid", Value: "forged.value"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForkTargetRepo(t *testing.T) {
	gh := &fakeGitHub{}
	cfg := githubConfig(gh.start(t))
	sessions := session.NewManager(nil, cfg.Session.CookieSecret, 0)
	_, ts := newTestServer(t, cfg, Dependencies{Sessions: sessions})

	resp, body := call(t, http.MethodPost, ts.URL+"/api/github/fork", nil, loggedIn(t, cfg, sessions))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, map[string]any{
		"owner":     "octocat",
		"repo":      "Hello-World",
		"full_name": "octo/Hello-World",
		"html_url":  "https://github.com/octo/Hello-World",
	}, body)
	calls, _, _ := gh.recorded()
	assert.Equal(t, []string{"POST /repos/octocat/Hello-World/forks"}, calls)
}

func TestUserPullRequestScenario(t *testing.T) {
	gh := &fakeGitHub{refCode: http.StatusUnprocessableEntity}
	cfg := githubConfig(gh.start(t))
	sessions := session.NewManager(nil, cfg.Session.CookieSecret, 0)
	_, ts := newTestServer(t, cfg, Dependencies{Sessions: sessions})

	resp, body := call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{
		"title": "Add service",
		"body":  "generated",
		"files": map[string]any{"app/src/services/service.rs": "fn main(){}"},
	}, loggedIn(t, cfg, sessions))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 7, body["number"])
	assert.Equal(t, "https://github.com/octo/Hello-World/pull/7", body["html_url"])

	calls, put, pulls := gh.recorded()
	assert.Equal(t, []string{
		"GET /user",
		"GET /repos/octo/Hello-World/git/ref/heads/main",
		"POST /repos/octo/Hello-World/git/refs",
		"GET /repos/octo/Hello-World/contents/app/src/services/service.rs",
		"PUT /repos/octo/Hello-World/contents/app/src/services/service.rs",
		"POST /repos/octo/Hello-World/pulls",
	}, calls)

	assert.Equal(t, "feature/auto-pr", put["branch"])
	assert.Equal(t, "chore: update app/src/services/service.rs", put["message"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fn main(){}")), put["content"])
	assert.Equal(t, "feature/auto-pr", pulls["head"])
	assert.Equal(t, "main", pulls["base"])
}

func TestUserPullRequestNestedPayload(t *testing.T) {
	gh := &fakeGitHub{}
	cfg := githubConfig(gh.start(t))
	sessions := session.NewManager(nil, cfg.Session.CookieSecret, 0)
	_, ts := newTestServer(t, cfg, Dependencies{Sessions: sessions})

	resp, body := call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{
		"pr":    `{"title":"Nested","base":"dev","branch":"agent/x"}`,
		"files": `[{"path":"counter/src/service.rs","content":"svc"}]`,
	}, loggedIn(t, cfg, sessions))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	calls, _, pulls := gh.recorded()
	assert.Contains(t, calls, "GET /repos/octo/Hello-World/git/ref/heads/dev")
	assert.Contains(t, calls, "PUT /repos/octo/Hello-World/contents/counter/src/service.rs")
	assert.Equal(t, "agent/x", pulls["head"])
	assert.Equal(t, "Nested", pulls["title"])
}

func TestUserPullRequestValidation(t *testing.T) {
	gh := &fakeGitHub{}
	cfg := githubConfig(gh.start(t))
	sessions := session.NewManager(nil, cfg.Session.CookieSecret, 0)
	_, ts := newTestServer(t, cfg, Dependencies{Sessions: sessions})
	cookie := loggedIn(t, cfg, sessions)

	resp, _ := call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{"files": map[string]any{"a": "b"}}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Missing title (or pr.title)", msg)

	resp, body = call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{"title": "x", "files": []any{}}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, []any{"files", "title"}, details["received_keys"])
	assert.Equal(t, "array", details["files_type"])

	resp, body = call(t, http.MethodPost, ts.URL+"/api/pr", map[string]any{"title": "x", "file_content": "fallback"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	_, put, _ := gh.recorded()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fallback")), put["content"])
}

func TestServicePullRequest(t *testing.T) {
	gh := &fakeGitHub{}
	cfg := githubConfig(gh.start(t))
	cfg.GitHub.Token = "gho_token"
	cfg.GitHub.Owner = "ekronos"
	cfg.GitHub.Repo = "agents"
	s, ts := newTestServer(t, cfg, Dependencies{})
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	resp, body := call(t, http.MethodPost, ts.URL+"/pr/create", map[string]any{
		"title": "Agent output",
		"body":  "b",
		"files": map[string]string{"b.rs": "B", "a.rs": "A"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, map[string]any{
		"ok":     true,
		"pr_url": "https://github.com/octo/Hello-World/pull/7",
		"branch": "agent/20260102-030405",
	}, body)
	calls, _, _ := gh.recorded()
	assert.Equal(t, []string{
		"GET /repos/ekronos/agents/git/ref/heads/main",
		"POST /repos/ekronos/agents/git/refs",
		"GET /repos/ekronos/agents/contents/a.rs",
		"PUT /repos/ekronos/agents/contents/a.rs",
		"GET /repos/ekronos/agents/contents/b.rs",
		"PUT /repos/ekronos/agents/contents/b.rs",
		"POST /repos/ekronos/agents/pulls",
	}, calls)
}

func TestServicePullRequestFailures(t *testing.T) {
	cfg := githubConfig("https://gh.example")
	_, ts := newTestServer(t, cfg, Dependencies{})
	resp, body := call(t, http.MethodPost, ts.URL+"/pr/create", map[string]any{"title": "t", "files": map[string]string{"a": "b"}})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	code, _ := errorOf(t, body)
	assert.Equal(t, "CONFIGURATION", code)

	gh := &fakeGitHub{refCode: http.StatusForbidden}
	cfg = githubConfig(gh.start(t))
	cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo = "gho_token", "ekronos", "agents"
	_, ts = newTestServer(t, cfg, Dependencies{})
	resp, body = call(t, http.MethodPost, ts.URL+"/pr/create", map[string]any{"title": "t", "files": map[string]string{"a": "b"}})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Failed to create PR: Failed to create branch: Reference already exists", msg)
}
