// Package github wraps the handful of GitHub OAuth and REST calls used to
// fork the target repository and open pull requests from agent output.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/pkg/logger"
)

// CodeStepFailed 表示文件发布流程中的某一步失败，元数据 step 标明具体步骤。
const CodeStepFailed xerrors.Code = "GITHUB_STEP_FAILED"

func init() {
	xerrors.Register(CodeStepFailed, xerrors.Attributes{
		Message:    "github step failed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusInternalServerError,
	})
}

const (
	defaultAPIBase   = "https://api.github.com"
	defaultOAuthBase = "https://github.com"
	defaultUserAgent = "ekronos-agents"
	defaultTimeout   = 30 * time.Second
	oauthScope       = "public_repo"
)

// Config 描述 GitHub 客户端所需的配置。
type Config struct {
	APIBaseURL   string
	OAuthBaseURL string
	ClientID     string
	ClientSecret string
	// BackendURL 用于拼接 OAuth 回调地址。
	BackendURL string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 调用 GitHub OAuth 与 REST API。
type Client struct {
	cfg     Config
	http    *http.Client
	apiBase *url.URL
	oauth   *oauth2.Config
	log     *slog.Logger
}

// New 创建客户端，未设置的地址使用 github.com 默认值。
func New(cfg Config) *Client {
	cfg.APIBaseURL = strings.TrimRight(firstNonEmpty(cfg.APIBaseURL, defaultAPIBase), "/")
	cfg.OAuthBaseURL = strings.TrimRight(firstNonEmpty(cfg.OAuthBaseURL, defaultOAuthBase), "/")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.UserAgent = firstNonEmpty(cfg.UserAgent, defaultUserAgent)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiBase, err := url.Parse(cfg.APIBaseURL + "/")
	if err != nil {
		apiBase, _ = url.Parse(defaultAPIBase + "/")
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		apiBase: apiBase,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.BackendURL + "/api/auth/github/callback",
			Scopes:       []string{oauthScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.OAuthBaseURL + "/login/oauth/authorize",
				TokenURL:  cfg.OAuthBaseURL + "/login/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		log: logger.Named("github"),
	}
}

// rest 返回携带令牌的 REST 客户端，每次调用单独构建以免令牌串用。
func (c *Client) rest(token string) *gh.Client {
	client := gh.NewClient(c.http)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	client.BaseURL = c.apiBase
	client.UserAgent = c.cfg.UserAgent
	return client
}

// PRSpec 描述一次创建 PR 的请求。
type PRSpec struct {
	Owner string
	Repo  string
	Head  string
	Base  string
	Title string
	Body  string
}

// PullRequest 是创建 PR 后返回的摘要。
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// User 是 /user 接口返回的账户信息。
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Name  string `json:"name"`
}

// AuthorizeURL 返回 OAuth 授权跳转地址。
func (c *Client) AuthorizeURL(state string) (string, error) {
	if c.cfg.ClientID == "" {
		return "", xerrors.New(xerrors.CodeConfiguration, "Missing GITHUB_CLIENT_ID")
	}
	return c.oauth.AuthCodeURL(state), nil
}

// ExchangeCode 用授权码换取访问令牌。
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	if c.cfg.ClientSecret == "" {
		return "", xerrors.New(xerrors.CodeConfiguration, "Missing GITHUB_CLIENT_SECRET")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			msg := firstNonEmpty(re.ErrorDescription, "No access_token")
			return "", xerrors.New(xerrors.CodeUnauthorized, msg, xerrors.StatusMetadata(status))
		}
		c.log.Warn("github token exchange failed", slog.Any("error", err))
		return "", xerrors.Wrap(xerrors.CodeUnauthorized, err, "No access_token")
	}
	return tok.AccessToken, nil
}

// User 返回令牌所属用户，GitHub 拒绝时视为令牌无效。
func (c *Client) User(ctx context.Context, token string) (*User, error) {
	u, _, err := c.rest(token).Users.Get(ctx, "")
	if err != nil {
		if status, _, ok := responseError(err); ok {
			return nil, xerrors.New(xerrors.CodeUnauthorized, "Invalid GitHub token", xerrors.StatusMetadata(status))
		}
		return nil, c.transportError("get user", err)
	}
	return &User{Login: u.GetLogin(), ID: u.GetID(), Name: u.GetName()}, nil
}

// Fork 在令牌所属账户下 fork 指定仓库，GitHub 以 202 异步受理。
func (c *Client) Fork(ctx context.Context, token, owner, repo string) (map[string]any, error) {
	fork, _, err := c.rest(token).Repositories.CreateFork(ctx, owner, repo, &gh.RepositoryCreateForkOptions{})
	var accepted *gh.AcceptedError
	switch {
	case errors.As(err, &accepted):
		out := decodeObject(accepted.Raw)
		if len(out) == 0 {
			out = map[string]any{"status": "accepted"}
		}
		return out, nil
	case err != nil:
		if status, msg, ok := responseError(err); ok {
			return nil, upstream(status, firstNonEmpty(msg, "Fork failed"))
		}
		return nil, c.transportError("fork", err)
	}
	raw, err := json.Marshal(fork)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "decode fork")
	}
	return decodeObject(raw), nil
}

// CreatePullRequest 打开一个 PR。
func (c *Client) CreatePullRequest(ctx context.Context, token string, spec PRSpec) (*PullRequest, error) {
	if spec.Title == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Missing PR title")
	}
	req := &gh.NewPullRequest{
		Title: gh.String(spec.Title),
		Head:  gh.String(spec.Head),
		Base:  gh.String(spec.Base),
	}
	if spec.Body != "" {
		req.Body = gh.String(spec.Body)
	}
	created, _, err := c.rest(token).PullRequests.Create(ctx, spec.Owner, spec.Repo, req)
	if err != nil {
		if status, msg, ok := responseError(err); ok {
			return nil, upstream(status, firstNonEmpty(msg, "Failed to create pull request"))
		}
		return nil, c.transportError("create pull request", err)
	}
	pr := &PullRequest{Number: created.GetNumber(), HTMLURL: created.GetHTMLURL(), State: created.GetState()}
	logger.Audit().Info("pull request created",
		slog.String("repo", spec.Owner+"/"+spec.Repo),
		slog.String("head", spec.Head),
		slog.Int("number", pr.Number),
	)
	return pr, nil
}

// CreateBranch 读取 base 分支的提交 SHA 并以此创建 branch，分支已存在（422）不视为错误。
func (c *Client) CreateBranch(ctx context.Context, token, owner, repo, base, branch string) error {
	client := c.rest(token)

	ref, _, err := client.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return c.stepError("read_base_ref", "Failed to read base branch SHA", err)
	}
	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return xerrors.New(CodeStepFailed, "Failed to read base branch SHA: unknown",
			xerrors.WithMetadata("step", "read_base_ref"))
	}

	_, _, err = client.Git.CreateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	})
	if err != nil {
		if status, _, ok := responseError(err); ok && status == http.StatusUnprocessableEntity {
			return nil
		}
		return c.stepError("create_ref", "Failed to create branch", err)
	}
	return nil
}

// PutFile 在 branch 上创建或更新单个文件，提交信息为 "chore: update {path}"。
func (c *Client) PutFile(ctx context.Context, token, owner, repo, branch, path, content string) error {
	client := c.rest(token)

	var existingSHA string
	existing, _, _, err := client.Repositories.GetContents(ctx, owner, repo, path,
		&gh.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if status, _, ok := responseError(err); !ok || status != http.StatusNotFound {
			return c.stepError("read_file", "Failed to read target file", err)
		}
	} else if existing != nil {
		existingSHA = existing.GetSHA()
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String("chore: update " + path),
		Content: []byte(content),
		Branch:  gh.String(branch),
	}
	if existingSHA != "" {
		opts.SHA = gh.String(existingSHA)
		_, _, err = client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	} else {
		_, _, err = client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return c.stepError("put_file", "Failed to create commit", err)
	}
	return nil
}

// FileChange 描述发布单个文件所需的全部参数。
type FileChange struct {
	Owner   string
	Repo    string
	Base    string
	Branch  string
	Path    string
	Content string
}

// PublishFile 依次创建分支并提交单个文件。
func (c *Client) PublishFile(ctx context.Context, token string, fc FileChange) error {
	if err := c.CreateBranch(ctx, token, fc.Owner, fc.Repo, fc.Base, fc.Branch); err != nil {
		return err
	}
	return c.PutFile(ctx, token, fc.Owner, fc.Repo, fc.Branch, fc.Path, fc.Content)
}

// PublishFiles 创建分支后按路径顺序提交多个文件。
func (c *Client) PublishFiles(ctx context.Context, token, owner, repo, base, branch string, files map[string]string) error {
	if err := c.CreateBranch(ctx, token, owner, repo, base, branch); err != nil {
		return err
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := c.PutFile(ctx, token, owner, repo, branch, p, files[p]); err != nil {
			return err
		}
	}
	return nil
}

// responseError 从 go-github 的错误中取出 HTTP 状态码与 GitHub 返回的 message。
func responseError(err error) (int, string, bool) {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode, er.Message, true
	}
	var rl *gh.RateLimitError
	if errors.As(err, &rl) && rl.Response != nil {
		return rl.Response.StatusCode, rl.Message, true
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.Response != nil {
		return abuse.Response.StatusCode, abuse.Message, true
	}
	return 0, "", false
}

func (c *Client) transportError(op string, err error) error {
	c.log.Warn("github request failed", slog.String("op", op), slog.Any("error", err))
	return xerrors.Wrap(xerrors.CodeUpstream, err, "GitHub request failed")
}

func upstream(status int, message string) error {
	return xerrors.New(xerrors.CodeUpstream, message, xerrors.WithHTTPStatus(status), xerrors.StatusMetadata(status))
}

func (c *Client) stepError(step, prefix string, err error) error {
	status, msg, ok := responseError(err)
	if !ok {
		c.log.Warn("github request failed", slog.String("step", step), slog.Any("error", err))
		return xerrors.Wrap(CodeStepFailed, err, prefix+": "+err.Error(), xerrors.WithMetadata("step", step))
	}
	return xerrors.New(CodeStepFailed,
		fmt.Sprintf("%s: %s", prefix, firstNonEmpty(msg, "unknown")),
		xerrors.WithMetadata("step", step),
		xerrors.StatusMetadata(status),
	)
}

func decodeObject(data []byte) map[string]any {
	var out map[string]any
	if len(data) == 0 || json.Unmarshal(data, &out) != nil {
		return map[string]any{}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
