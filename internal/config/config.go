package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"Ekronos-Agents/pkg/logger"
)

// 支持的部署形态。
const (
	DeploymentStudio   = "studio"
	DeploymentDeployer = "deployer"
)

// Config 描述 ekronosd 启动时需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	GitHub   GitHubConfig   `yaml:"github"`
	Session  SessionConfig  `yaml:"session"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Training TrainingConfig `yaml:"training"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Web3     Web3Config     `yaml:"web3"`
	Alerting AlertingConfig `yaml:"alerting"`
	Logging  logger.Config  `yaml:"logging"`
}

// ServerConfig 控制 HTTP 服务监听地址与部署形态。
type ServerConfig struct {
	Address     string `yaml:"address"`
	Deployment  string `yaml:"deployment"`
	BackendURL  string `yaml:"backend_url"`
	FrontendURL string `yaml:"frontend_url"`
	// CORSOrigins 为空时仅允许 FrontendURL。
	CORSOrigins []string `yaml:"cors_origins"`
}

// LLMConfig 选择模型提供方并配置凭据。
type LLMConfig struct {
	Provider       string            `yaml:"provider"`
	APIKey         string            `yaml:"api_key"`
	BaseURL        string            `yaml:"base_url"`
	Model          string            `yaml:"model"`
	AgentModels    map[string]string `yaml:"agent_models"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Timeout        time.Duration     `yaml:"timeout"`
}

// GitHubConfig 同时覆盖 OAuth 登录流程与服务端 token 的 /pr/create 流程。
type GitHubConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	APIBaseURL   string        `yaml:"api_base_url"`
	OAuthBaseURL string        `yaml:"oauth_base_url"`
	TargetOwner  string        `yaml:"target_owner"`
	TargetRepo   string        `yaml:"target_repo"`
	Token        string        `yaml:"token"`
	Owner        string        `yaml:"owner"`
	Repo         string        `yaml:"repo"`
	RepoDir      string        `yaml:"repo_dir"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SessionConfig 描述会话 cookie 与存储后端。
type SessionConfig struct {
	CookieName   string        `yaml:"cookie_name"`
	CookieSecret string        `yaml:"cookie_secret"`
	CookieSecure bool          `yaml:"cookie_secure"`
	TTL          time.Duration `yaml:"ttl"`
	Driver       string        `yaml:"driver"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig 为会话与任务队列共用的 Redis 连接参数。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// GatewayConfig 下游部署网关地址。
type GatewayConfig struct {
	URL          string        `yaml:"url"`
	LiquidityURL string        `yaml:"liquidity_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// TrainingConfig 为各 agent 指定训练语料目录。
type TrainingConfig struct {
	Dirs     map[string]string `yaml:"dirs"`
	MaxFiles int               `yaml:"max_files"`
	MaxChars int               `yaml:"max_chars"`
}

// TasksConfig 控制异步编排任务的存储与队列。
type TasksConfig struct {
	Workers int         `yaml:"workers"`
	Store   StoreConfig `yaml:"store"`
	Queue   QueueConfig `yaml:"queue"`
}

// StoreConfig 任务存储，driver 取值 memory|mysql|sqlite。
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// QueueConfig 任务队列，driver 取值 memory|redis|rabbitmq|nats。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	NATS     NATSConfig     `yaml:"nats"`
}

// RabbitMQConfig 连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// NATSConfig 连接参数。
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Group   string `yaml:"group"`
}

// Web3Config 可选的链上只读探针。
type Web3Config struct {
	Network string `yaml:"network"`
	RPCURL  string `yaml:"rpc_url"`
}

// AlertingConfig 任务失败告警。
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Default 返回全部默认值。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8000",
			Deployment:  DeploymentStudio,
			BackendURL:  "http://localhost:8000",
			FrontendURL: "http://localhost:3000",
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-5",
			MaxConcurrency: 8,
		},
		GitHub: GitHubConfig{
			APIBaseURL:   "https://api.github.com",
			OAuthBaseURL: "https://github.com",
			TargetOwner:  "octocat",
			TargetRepo:   "Hello-World",
			Timeout:      30 * time.Second,
		},
		Session: SessionConfig{
			CookieName:   "sid",
			CookieSecret: "secret",
			TTL:          24 * time.Hour,
			Driver:       "memory",
			Redis:        RedisConfig{Addr: "127.0.0.1:6379", Prefix: "ekronos:session:"},
		},
		Gateway: GatewayConfig{
			URL:          "http://localhost:9000",
			LiquidityURL: "http://localhost:9000",
			Timeout:      30 * time.Second,
		},
		Training: TrainingConfig{MaxFiles: 12, MaxChars: 20000},
		Tasks: TasksConfig{
			Workers: 2,
			Store:   StoreConfig{Driver: "memory"},
			Queue: QueueConfig{
				Driver:   "memory",
				Buffer:   128,
				Redis:    RedisConfig{Addr: "127.0.0.1:6379", Prefix: "ekronos:tasks"},
				RabbitMQ: RabbitMQConfig{Queue: "ekronos.tasks", Prefetch: 4},
				NATS:     NATSConfig{Subject: "ekronos.tasks", Group: "ekronos-workers"},
			},
		},
		Logging: logger.Config{Level: "info", Format: "json"},
	}
}

// Load 依次应用默认值、YAML 文件（path 为空时跳过）与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyProviderDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查启动阶段必须存在的配置。OAuth 与网关参数在首次使用时校验。
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Deployment {
	case DeploymentStudio, DeploymentDeployer:
	default:
		errs = append(errs, fmt.Errorf("unknown deployment %q (expected studio or deployer)", c.Server.Deployment))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("missing API key for LLM provider %q", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider %q", c.LLM.Provider))
	}
	if c.LLM.MaxConcurrency <= 0 {
		c.LLM.MaxConcurrency = 1
	}
	return errors.Join(errs...)
}

// ModelFor 返回某个 agent 使用的模型，未单独配置时返回全局模型。
func (c *Config) ModelFor(agent string) string {
	if m := c.LLM.AgentModels[agent]; m != "" {
		return m
	}
	return c.LLM.Model
}

func (c *Config) resolvePaths(baseDir string) {
	for name, dir := range c.Training.Dirs {
		if dir != "" && !filepath.IsAbs(dir) {
			c.Training.Dirs[name] = filepath.Join(baseDir, dir)
		}
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// openAIAgentModels 是 OpenAI 提供方下各 agent 的默认模型，与原有部署保持一致。
var openAIAgentModels = map[string]string{
	"indexer":  "gpt-5.1",
	"frontend": "gpt-5.1",
	"server":   "gpt-5.1",
}

func (c *Config) applyProviderDefaults() {
	if c.LLM.Provider != "openai" {
		return
	}
	if c.LLM.AgentModels == nil {
		c.LLM.AgentModels = map[string]string{}
	}
	for agent, model := range openAIAgentModels {
		if _, ok := c.LLM.AgentModels[agent]; !ok {
			c.LLM.AgentModels[agent] = model
		}
	}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("EKRONOS_ADDR", &c.Server.Address)
	str("EKRONOS_DEPLOYMENT", &c.Server.Deployment)
	str("BACKEND_URL", &c.Server.BackendURL)
	str("FRONTEND_URL", &c.Server.FrontendURL)

	str("LLM_PROVIDER", &c.LLM.Provider)
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Provider == "anthropic" {
		str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
		str("ANTHROPIC_MODEL", &c.LLM.Model)
	} else {
		str("OPENAI_API_KEY", &c.LLM.APIKey)
		str("OPENAI_BASE_URL", &c.LLM.BaseURL)
		str("OPENAI_MODEL", &c.LLM.Model)
	}
	if v, ok := lookup("LLM_MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.LLM.MaxConcurrency = n
		}
	}

	str("GITHUB_CLIENT_ID", &c.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret)
	str("GITHUB_TOKEN", &c.GitHub.Token)
	str("GITHUB_OWNER", &c.GitHub.Owner)
	str("GITHUB_REPO", &c.GitHub.Repo)
	str("REPO_DIR", &c.GitHub.RepoDir)
	str("TARGET_REPO_OWNER", &c.GitHub.TargetOwner)
	str("TARGET_REPO_NAME", &c.GitHub.TargetRepo)

	str("COOKIE_SECRET", &c.Session.CookieSecret)
	str("SESSION_COOKIE", &c.Session.CookieName)
	if v, ok := lookup("COOKIE_SECURE"); ok {
		c.Session.CookieSecure = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	str("SESSION_DRIVER", &c.Session.Driver)

	str("GATEWAY_URL", &c.Gateway.URL)
	str("GATEWAY_LIQUIDITY_URL", &c.Gateway.LiquidityURL)

	if v, ok := lookup("TRAINING_DIR"); ok && strings.TrimSpace(v) != "" {
		if c.Training.Dirs == nil {
			c.Training.Dirs = map[string]string{}
		}
		c.Training.Dirs["smart_program"] = strings.TrimSpace(v)
	}

	if v, ok := lookup("REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.Session.Redis.Addr = strings.TrimSpace(v)
		c.Tasks.Queue.Redis.Addr = strings.TrimSpace(v)
	}
	str("TASK_STORE_DRIVER", &c.Tasks.Store.Driver)
	str("TASK_STORE_DSN", &c.Tasks.Store.DSN)
	str("TASK_QUEUE_DRIVER", &c.Tasks.Queue.Driver)
	str("RABBITMQ_URL", &c.Tasks.Queue.RabbitMQ.URL)
	str("NATS_URL", &c.Tasks.Queue.NATS.URL)

	str("CHAIN_RPC_URL", &c.Web3.RPCURL)
	str("ALERT_WEBHOOK_URL", &c.Alerting.WebhookURL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
}
