package config

const (
	defaultDataDir            = "~/.local/share/currents/data"
	defaultLogDir             = "~/.local/share/currents/logs"
	defaultWorkers            = 2
	defaultPollInterval       = 600
	defaultErrorRetryInterval = 30
	defaultMaxAttempts        = 3
	defaultBatchSize          = 25
	defaultManualPriority     = 10
	defaultAutoPriority       = 100
	defaultClaimLeaseMinutes  = 120
	defaultAutoTriggerMinutes = 30
	defaultWindowDays         = 7
	defaultRuleWeight         = 0.4
	defaultSemanticWeight     = 0.6
	defaultMinSimilarity      = 0.7
	defaultMinImportance      = 5
	defaultCandidateTopK      = 5
	defaultCandidateLimit     = 200
	defaultMinSemanticScore   = 0.3
	defaultGateBackend        = "sqlite"
	defaultGateCacheTTL       = 60
	defaultRedisKeyPrefix     = "currents:gates:"
	defaultAIBaseURL          = "https://api.openai.com/v1"
	defaultAIModel            = "gpt-4o-mini"
	defaultAITimeoutSeconds   = 60
	defaultVectorTimeout      = 15
	defaultBusSubjectPrefix   = "currents"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxAttempts:        defaultMaxAttempts,
			BatchSize:          defaultBatchSize,
			ManualPriority:     defaultManualPriority,
			AutoPriority:       defaultAutoPriority,
			ClaimLeaseMinutes:  defaultClaimLeaseMinutes,
			AutoTriggerMinutes: defaultAutoTriggerMinutes,
		},
		Clustering: Clustering{
			WindowDays:       defaultWindowDays,
			RuleWeight:       defaultRuleWeight,
			SemanticWeight:   defaultSemanticWeight,
			MinSimilarity:    defaultMinSimilarity,
			MinImportance:    defaultMinImportance,
			CandidateTopK:    defaultCandidateTopK,
			CandidateLimit:   defaultCandidateLimit,
			MinSemanticScore: defaultMinSemanticScore,
		},
		Gates: Gates{
			Backend:         defaultGateBackend,
			CacheTTLSeconds: defaultGateCacheTTL,
			RedisKeyPrefix:  defaultRedisKeyPrefix,
		},
		AI: AI{
			BaseURL:        defaultAIBaseURL,
			Model:          defaultAIModel,
			TimeoutSeconds: defaultAITimeoutSeconds,
		},
		Vector: Vector{
			TimeoutSeconds: defaultVectorTimeout,
		},
		Bus: Bus{
			SubjectPrefix: defaultBusSubjectPrefix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
