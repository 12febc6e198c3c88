package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSpeechlab(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	if c.Paths.BaseURL == "" {
		return errors.New("paths.base_url must be set")
	}
	return nil
}

func (c *Config) validateSpeechlab() error {
	if c.Speechlab.BaseURL == "" {
		return errors.New("speechlab.base_url must be set")
	}
	return ensurePositiveMap(map[string]int{
		"speechlab.request_timeout":  c.Speechlab.RequestTimeout,
		"speechlab.retry_attempts":   c.Speechlab.RetryAttempts,
		"speechlab.retry_backoff_ms": c.Speechlab.RetryBackoffMS,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.status_poll_interval": c.Workflow.StatusPollInterval,
		"workflow.wait_budget":          c.Workflow.WaitBudget,
		"workflow.sync_wait_budget":     c.Workflow.SyncWaitBudget,
		"workflow.sync_poll_interval":   c.Workflow.SyncPollInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must not be negative")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	// The synchronous bridge heartbeats its job for the whole inline wait, but
	// the timeout must still clear the budget so a paused bridge process is
	// never reclaimed out from under a live request.
	if c.Workflow.SyncWaitBudget >= c.Workflow.HeartbeatTimeout {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.sync_wait_budget")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxUploadMiB <= 0 {
		return errors.New("limits.max_upload_mib must be positive")
	}
	if c.Limits.RequestsPerSec <= 0 {
		return errors.New("limits.requests_per_sec must be positive")
	}
	if c.Limits.Burst <= 0 {
		return errors.New("limits.burst must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
