package resilience

import (
	"time"

	"github.com/sells-group/formguard/internal/config"
)

// FromNotifyConfig derives the delivery retry and breaker settings from the
// notifier configuration.
func FromNotifyConfig(cfg config.NotifyConfig) (RetryConfig, CircuitBreakerConfig) {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.Retries + 1
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	breaker := DefaultCircuitBreakerConfig()
	if cfg.TimeoutSecs > 0 {
		// Keep probing at least a few send timeouts apart.
		breaker.ResetTimeout = max(breaker.ResetTimeout, 6*time.Duration(cfg.TimeoutSecs)*time.Second)
	}
	return retry, breaker
}
