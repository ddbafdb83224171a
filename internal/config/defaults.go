package config

const (
	defaultDataDir                = "~/.local/share/tagsync"
	defaultLogDir                 = "~/.local/share/tagsync/logs"
	defaultStoreFile              = "tagsync.db"
	defaultStoreBusyTimeoutMS     = 5000
	defaultStoreMaxOpenConns      = 4
	defaultIngestConfirmBytes     = 64 << 20
	defaultIngestedBy             = "tagsync"
	defaultIdentityPartitions     = 64
	defaultIdentityTieBreak       = "lexicographic"
	defaultDriftPolicy            = "refinement"
	defaultReconcileMaxAttempts   = 5
	defaultReconcileInitialMS     = 100
	defaultReconcileMaxMS         = 5000
	defaultWatchDebounceMS        = 500
	defaultWatchRescanSeconds     = 900
	defaultWatchHashCacheSeconds  = 3600
	defaultClassifierBaseURL      = "https://api.openai.com/v1"
	defaultClassifierModel        = "gpt-4o-mini"
	defaultClassifierTimeout      = 60
	defaultClassifierRPS          = 1.0
	defaultClassifierBurst        = 2
	defaultMetricsBind            = "127.0.0.1:9478"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultDuplicateSimilarity    = 0.0
	defaultRefinementSimilarity   = 0.0
	defaultClassifierMaxProposals = 50
)

var (
	defaultExtensions = []string{".md", ".markdown", ".html", ".htm", ".csv", ".tsv", ".xlsx", ".xlsm"}
	defaultExcludes   = []string{"**/.git/**", "**/.obsidian/**", "**/.trash/**", "**/node_modules/**"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			BusyTimeoutMS: defaultStoreBusyTimeoutMS,
			MaxOpenConns:  defaultStoreMaxOpenConns,
		},
		Ingest: Ingest{
			ConfirmThresholdBytes: defaultIngestConfirmBytes,
			StrictMarkers:         true,
			IngestedBy:            defaultIngestedBy,
			Extensions:            append([]string(nil), defaultExtensions...),
			Exclude:               append([]string(nil), defaultExcludes...),
			DuplicateSimilarity:   defaultDuplicateSimilarity,
		},
		Identity: Identity{
			Partitions: defaultIdentityPartitions,
			TieBreak:   defaultIdentityTieBreak,
		},
		Drift: Drift{
			Policy:               defaultDriftPolicy,
			RefinementSimilarity: defaultRefinementSimilarity,
		},
		Reconcile: Reconcile{
			MaxAttempts:      defaultReconcileMaxAttempts,
			InitialBackoffMS: defaultReconcileInitialMS,
			MaxBackoffMS:     defaultReconcileMaxMS,
		},
		Watch: Watch{
			DebounceMS:            defaultWatchDebounceMS,
			RescanIntervalSeconds: defaultWatchRescanSeconds,
			HashCacheTTLSeconds:   defaultWatchHashCacheSeconds,
		},
		Classifier: Classifier{
			BaseURL:           defaultClassifierBaseURL,
			Model:             defaultClassifierModel,
			TimeoutSeconds:    defaultClassifierTimeout,
			RequestsPerSecond: defaultClassifierRPS,
			Burst:             defaultClassifierBurst,
			MaxProposals:      defaultClassifierMaxProposals,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
