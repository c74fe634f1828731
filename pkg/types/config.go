package types

// ProjectConfig is the top-level runwarden.yaml configuration.
type ProjectConfig struct {
	Provider  string            `yaml:"provider" json:"provider" validate:"required,oneof=dynamodb sqlite"`
	DynamoDB  *DynamoDBConfig   `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty" validate:"required_if=Provider dynamodb,omitempty"`
	SQLite    *SQLiteConfig     `yaml:"sqlite,omitempty" json:"sqlite,omitempty" validate:"required_if=Provider sqlite,omitempty"`
	Policy    RemediationPolicy `yaml:"policy" json:"policy"`
	Cycle     CycleConfig       `yaml:"cycle" json:"cycle"`
	Platform  PlatformConfig    `yaml:"platform" json:"platform"`
	Inference InferenceConfig   `yaml:"inference" json:"inference"`
	Messaging MessagingConfig   `yaml:"messaging" json:"messaging"`
	Alerts    []AlertConfig     `yaml:"alerts,omitempty" json:"alerts,omitempty" validate:"dive"`
	Telemetry TelemetryConfig   `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Targets   []TargetConfig    `yaml:"targets,omitempty" json:"targets,omitempty" validate:"dive"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName" validate:"required"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	VerdictTTL   string `yaml:"verdictTtl,omitempty" json:"verdictTtl,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
	CreateTable  bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// SQLiteConfig holds the local database location.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// RemediationPolicy bounds automatic remediation. At the project level every
// field except the multiplier and cap is required; on a target, zero values
// inherit the project policy.
type RemediationPolicy struct {
	ConfidenceThreshold float64 `yaml:"confidenceThreshold" json:"confidenceThreshold,omitempty" validate:"gte=0,lte=1"`
	MaxAttempts         int     `yaml:"maxAttempts" json:"maxAttempts,omitempty" validate:"gte=0"`
	Cooldown            string  `yaml:"cooldown" json:"cooldown,omitempty"`
	CooldownMultiplier  float64 `yaml:"cooldownMultiplier,omitempty" json:"cooldownMultiplier,omitempty" validate:"gte=0"`
	MaxCooldown         string  `yaml:"maxCooldown,omitempty" json:"maxCooldown,omitempty"`
}

// Merge returns p with every non-zero field of override applied.
func (p RemediationPolicy) Merge(override *RemediationPolicy) RemediationPolicy {
	if override == nil {
		return p
	}
	if override.ConfidenceThreshold > 0 {
		p.ConfidenceThreshold = override.ConfidenceThreshold
	}
	if override.MaxAttempts > 0 {
		p.MaxAttempts = override.MaxAttempts
	}
	if override.Cooldown != "" {
		p.Cooldown = override.Cooldown
	}
	if override.CooldownMultiplier > 0 {
		p.CooldownMultiplier = override.CooldownMultiplier
	}
	if override.MaxCooldown != "" {
		p.MaxCooldown = override.MaxCooldown
	}
	return p
}

// CycleConfig bounds the work of one monitoring cycle.
type CycleConfig struct {
	Interval             string `yaml:"interval,omitempty" json:"interval,omitempty"`
	Deadline             string `yaml:"deadline,omitempty" json:"deadline,omitempty"`
	Workers              int    `yaml:"workers,omitempty" json:"workers,omitempty" validate:"gte=0,lte=64"`
	PageSize             int    `yaml:"pageSize,omitempty" json:"pageSize,omitempty" validate:"gte=0,lte=100"`
	ObservationRetention int    `yaml:"observationRetention,omitempty" json:"observationRetention,omitempty" validate:"gte=0"`
	LogExcerptBytes      int    `yaml:"logExcerptBytes,omitempty" json:"logExcerptBytes,omitempty" validate:"gte=0"`
	InferenceTimeout     string `yaml:"inferenceTimeout,omitempty" json:"inferenceTimeout,omitempty"`
	RerunTimeout         string `yaml:"rerunTimeout,omitempty" json:"rerunTimeout,omitempty"`
	PlatformTimeout      string `yaml:"platformTimeout,omitempty" json:"platformTimeout,omitempty"`
}

// PlatformConfig configures the hosting-platform client.
type PlatformConfig struct {
	BaseURL           string  `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty" validate:"omitempty,url"`
	RerunMode         string  `yaml:"rerunMode,omitempty" json:"rerunMode,omitempty" validate:"omitempty,oneof=failed-jobs all"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty" validate:"gte=0"`
	TokenSecretID     string  `yaml:"tokenSecretId,omitempty" json:"tokenSecretId,omitempty"`
}

// InferenceConfig configures the OpenAI-compatible inference endpoint.
type InferenceConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty" validate:"omitempty,url"`
	Model          string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKeyEnv      string `yaml:"apiKeyEnv,omitempty" json:"apiKeyEnv,omitempty"`
	MaxPromptBytes int    `yaml:"maxPromptBytes,omitempty" json:"maxPromptBytes,omitempty" validate:"gte=0"`
}

// MessagingConfig configures the operator messaging transport.
type MessagingConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty" json:"telegram,omitempty"`
}

// TelegramConfig configures the Telegram Bot API transport.
type TelegramConfig struct {
	TokenEnv       string   `yaml:"tokenEnv,omitempty" json:"tokenEnv,omitempty"`
	ChatID         string   `yaml:"chatId" json:"chatId"`
	AllowedChatIDs []string `yaml:"allowedChatIds,omitempty" json:"allowedChatIds,omitempty"`
	BaseURL        string   `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty" validate:"omitempty,url"`
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type         AlertType `yaml:"type" json:"type" validate:"required,oneof=console webhook file eventbridge messaging"`
	URL          string    `yaml:"url,omitempty" json:"url,omitempty" validate:"required_if=Type webhook,omitempty,url"`
	Path         string    `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Type file"`
	EventBusName string    `yaml:"eventBusName,omitempty" json:"eventBusName,omitempty" validate:"required_if=Type eventbridge"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// TargetConfig is an initial target declared in configuration.
type TargetConfig struct {
	Account  string             `yaml:"account" json:"account" validate:"required"`
	Project  string             `yaml:"project" json:"project" validate:"required"`
	Workflow string             `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Label    string             `yaml:"label,omitempty" json:"label,omitempty"`
	Channel  string             `yaml:"channel,omitempty" json:"channel,omitempty"`
	RepoURL  string             `yaml:"repoUrl,omitempty" json:"repoUrl,omitempty" validate:"omitempty,url"`
	Policy   *RemediationPolicy `yaml:"policy,omitempty" json:"policy,omitempty"`
}
