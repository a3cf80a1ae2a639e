package api

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/github"
)

func (s *Server) handleOAuthStart(c echo.Context) error {
	state, err := randomState()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "generate oauth state")
	}
	target, err := s.deps.GitHub.AuthorizeURL(state)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, target)
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "Missing code")
	}
	ctx := c.Request().Context()
	token, err := s.deps.GitHub.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	value, err := s.deps.Sessions.Create(ctx, token)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.deps.Sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusTemporaryRedirect, s.cfg.Server.FrontendURL)
}

func (s *Server) handleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(s.cfg.Session.CookieName); err == nil {
		if err := s.deps.Sessions.Destroy(c.Request().Context(), cookie.Value); err != nil {
			return err
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// sessionToken 返回当前会话的 GitHub 访问令牌。
func (s *Server) sessionToken(c echo.Context) (string, error) {
	var value string
	if cookie, err := c.Cookie(s.cfg.Session.CookieName); err == nil {
		value = cookie.Value
	}
	return s.deps.Sessions.Token(c.Request().Context(), value)
}

func (s *Server) handleMe(c echo.Context) error {
	token, err := s.sessionToken(c)
	if err != nil {
		return err
	}
	user, err := s.deps.GitHub.User(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"login": user.Login})
}

func (s *Server) handleFork(c echo.Context) error {
	token, err := s.sessionToken(c)
	if err != nil {
		return err
	}
	owner, repo := s.cfg.GitHub.TargetOwner, s.cfg.GitHub.TargetRepo
	data, err := s.deps.GitHub.Fork(c.Request().Context(), token, owner, repo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"owner":     owner,
		"repo":      repo,
		"full_name": data["full_name"],
		"html_url":  data["html_url"],
	})
}

// prRequest 是 /api/pr 宽松载荷归一化后的结果。
type prRequest struct {
	Title   string
	Body    string
	Base    string
	Branch  string
	Path    string
	Content string
}

// parsePRPayload 支持 {pr: {...}, files} 与顶层字段两种写法，files 可以是对象、数组或 JSON 字符串，
// file_content 作为最后的内容来源。
func parsePRPayload(raw any) (*prRequest, error) {
	payload, ok := github.MaybeJSON(raw).(map[string]any)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Invalid JSON payload")
	}

	fields := payload
	if pr, ok := github.MaybeJSON(payload["pr"]).(map[string]any); ok {
		fields = pr
	}
	req := &prRequest{
		Title:  stringField(fields, "title"),
		Body:   stringField(fields, "body"),
		Base:   stringField(fields, "base"),
		Branch: stringField(fields, "branch"),
	}
	if req.Base == "" {
		req.Base = github.DefaultBaseBranch
	}
	if req.Branch == "" {
		req.Branch = github.DefaultHeadBranch
	}
	if req.Title == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Missing title (or pr.title)")
	}

	files := github.NormalizeFiles(payload["files"])
	req.Path = github.ChooseTargetPath(files)
	content, ok := github.PickContent(files, req.Path)
	if !ok {
		if fallback := stringField(payload, "file_content"); strings.TrimSpace(fallback) != "" {
			content, ok = fallback, true
		}
	}
	if !ok {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		details := map[string]any{"received_keys": keys}
		if v, present := payload["files"]; present {
			details["files_type"] = jsonType(v)
		}
		return nil, withDetails(xerrors.New(xerrors.CodeInvalidArgument,
			"No file content provided. Send payload.files with at least one file string OR payload.file_content."), details)
	}
	req.Content = content
	return req, nil
}

// handleUserPR 以登录用户的身份在其 fork 上提交文件并打开 PR。
func (s *Server) handleUserPR(c echo.Context) error {
	token, err := s.sessionToken(c)
	if err != nil {
		return err
	}
	var raw any
	if err := decodeBody(c, &raw); err != nil {
		return err
	}
	req, err := parsePRPayload(raw)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := s.deps.GitHub.User(ctx, token)
	if err != nil {
		return err
	}
	repo := s.cfg.GitHub.TargetRepo
	if err := s.deps.GitHub.PublishFile(ctx, token, github.FileChange{
		Owner:   user.Login,
		Repo:    repo,
		Base:    req.Base,
		Branch:  req.Branch,
		Path:    req.Path,
		Content: req.Content,
	}); err != nil {
		return err
	}
	pr, err := s.deps.GitHub.CreatePullRequest(ctx, token, github.PRSpec{
		Owner: user.Login,
		Repo:  repo,
		Head:  req.Branch,
		Base:  req.Base,
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pr)
}

type servicePRRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Base   string `json:"base"`
	Branch string `json:"branch"`
	Files  any    `json:"files"`
}

// handleServicePR 使用服务端配置的令牌向 github.owner/github.repo 提交全部文件并打开 PR。
func (s *Server) handleServicePR(c echo.Context) error {
	var req servicePRRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	gh := s.cfg.GitHub
	if gh.Token == "" || gh.Owner == "" || gh.Repo == "" {
		return xerrors.New(xerrors.CodeConfiguration, "Missing GITHUB_TOKEN / GITHUB_OWNER / GITHUB_REPO")
	}
	if strings.TrimSpace(req.Title) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "Missing title")
	}
	files := github.NormalizeFiles(req.Files)
	if len(files) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "No files provided")
	}
	if req.Base == "" {
		req.Base = github.DefaultBaseBranch
	}
	if req.Branch == "" {
		req.Branch = github.MakeBranch("agent", s.now().UTC())
	}

	ctx := c.Request().Context()
	err := s.deps.GitHub.PublishFiles(ctx, gh.Token, gh.Owner, gh.Repo, req.Base, req.Branch, files)
	var pr *github.PullRequest
	if err == nil {
		pr, err = s.deps.GitHub.CreatePullRequest(ctx, gh.Token, github.PRSpec{
			Owner: gh.Owner,
			Repo:  gh.Repo,
			Head:  req.Branch,
			Base:  req.Base,
			Title: req.Title,
			Body:  req.Body,
		})
	}
	if err != nil {
		s.log.Warn("service pull request failed", slog.String("branch", req.Branch), slog.Any("error", err))
		return xerrors.Wrap(xerrors.CodeUpstream, err, "Failed to create PR: "+xerrors.MessageOf(err),
			xerrors.WithHTTPStatus(http.StatusInternalServerError))
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "pr_url": pr.HTMLURL, "branch": req.Branch})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
