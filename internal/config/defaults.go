package config

const (
	defaultDataDir      = "~/.local/share/overdub"
	defaultArtifactsDir = "~/.local/share/overdub/artifacts"
	defaultUploadsDir   = "~/.local/share/overdub/uploads"
	defaultLogDir       = "~/.local/share/overdub/logs"
	defaultAPIBind      = "127.0.0.1:8747"
	defaultBaseURL      = "http://127.0.0.1:8747"

	defaultSpeechlabBaseURL     = "https://api.speechlab.example.com"
	defaultSpeechlabTimeout     = 60
	defaultSpeechlabRetries     = 3
	defaultSpeechlabBackoffMS   = 500
	defaultWorkers              = 4
	defaultQueuePollInterval    = 2
	defaultErrorRetryInterval   = 5
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 240
	defaultStatusPollInterval   = 5
	defaultWaitBudget           = 900
	defaultSyncWaitBudget       = 180
	defaultSyncPollInterval     = 2
	defaultMaxRetries           = 3
	defaultMaxUploadMiB         = 50
	defaultRequestsPerSec       = 5.0
	defaultBurst                = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ArtifactsDir: defaultArtifactsDir,
			UploadsDir:   defaultUploadsDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
			BaseURL:      defaultBaseURL,
		},
		Speechlab: Speechlab{
			BaseURL:        defaultSpeechlabBaseURL,
			RequestTimeout: defaultSpeechlabTimeout,
			RetryAttempts:  defaultSpeechlabRetries,
			RetryBackoffMS: defaultSpeechlabBackoffMS,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StatusPollInterval: defaultStatusPollInterval,
			WaitBudget:         defaultWaitBudget,
			SyncWaitBudget:     defaultSyncWaitBudget,
			SyncPollInterval:   defaultSyncPollInterval,
			MaxRetries:         defaultMaxRetries,
		},
		Limits: Limits{
			MaxUploadMiB:   defaultMaxUploadMiB,
			RequestsPerSec: defaultRequestsPerSec,
			Burst:          defaultBurst,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
