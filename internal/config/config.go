package config

import "time"

// Config is the root configuration for Foundry.
type Config struct {
	Store    StoreConfig    `json:"store"`
	Intake   IntakeConfig   `json:"intake"`
	Budget   BudgetConfig   `json:"budget"`
	Pipeline PipelineConfig `json:"pipeline"`
	Models   ModelsConfig   `json:"models"`
	Forge    ForgeConfig    `json:"forge"`
	Inbox    InboxConfig    `json:"inbox"`
	Events   EventsConfig   `json:"events"`
	Hooks    HooksConfig    `json:"hooks"`
	Digest   DigestConfig   `json:"digest"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `json:"path"` // SQLite file (default: $FOUNDRY_PATH/foundry.db)
}

// IntakeConfig holds the HTTP intake server settings.
type IntakeConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secret string `json:"secret,omitempty"` // Bearer token for /api routes; empty disables auth
}

// BudgetConfig holds spend limits and model pricing.
// Prices are integer cents per million tokens.
type BudgetConfig struct {
	DailyCeilingCents  int `json:"daily_ceiling_cents"`
	InputCentsPerMtok  int `json:"input_cents_per_mtok"`
	OutputCentsPerMtok int `json:"output_cents_per_mtok"`
}

// PipelineConfig tunes the task pipeline.
type PipelineConfig struct {
	PollInterval      Duration          `json:"poll_interval"`
	MaxReviewCycles   int               `json:"max_review_cycles"`
	BranchPrefix      string            `json:"branch_prefix"`
	CompletionTimeout Duration          `json:"completion_timeout"`
	ProtectedPaths    []string          `json:"protected_paths,omitempty"` // glob patterns the coder may never touch
	MaxTokens         PhaseTokensConfig `json:"max_tokens"`
	ProjectPrimer     string            `json:"project_primer,omitempty"` // file injected into every planner prompt
	ContextDirs       []string          `json:"context_dirs,omitempty"`   // repo directories listed for the planner
}

// PhaseTokensConfig caps completion output per pipeline phase.
type PhaseTokensConfig struct {
	Planner  int `json:"planner"`
	Coder    int `json:"coder"`
	Reviewer int `json:"reviewer"`
	Tester   int `json:"tester"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver  string         `json:"driver"` // "anthropic", "openai", "ollama"
	Model   string         `json:"model"`
	BaseURL string         `json:"base_url,omitempty"`
	Auth    AuthConfig     `json:"auth"`
	Tags    []string       `json:"tags,omitempty"`
	Timeout Duration       `json:"timeout,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // OAuth/Bearer token
}

// ForgeConfig points at the repository the pipeline works against.
type ForgeConfig struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Token      string `json:"token,omitempty"` // or ${{ .Env.GITHUB_TOKEN }}
	BaseBranch string `json:"base_branch"`
	BaseURL    string `json:"base_url,omitempty"` // GitHub Enterprise endpoint
}

// InboxConfig locates the drop file ingested on each poll cycle. The path is
// relative to the target repository root, read from the base branch.
type InboxConfig struct {
	Path string `json:"path"` // default: tasks/inbox.json
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"`
}

// HooksConfig holds shell commands run on terminal task states.
type HooksConfig struct {
	OnTaskDone   string `json:"on_task_done,omitempty"`
	OnTaskFailed string `json:"on_task_failed,omitempty"`
}

// DigestConfig schedules the daily activity digest.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron spec, default "0 9 * * *"
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
