package risk

import (
	"time"

	"github.com/sells-group/formguard/internal/config"
)

// DefaultRiskConfig returns a config.RiskConfig with the stock weights and
// thresholds.
func DefaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		WindowHours:           24,
		ChallengeThreshold:    4,
		AlertThreshold:        4,
		RepeatForcesChallenge: true,

		HighVolumeThreshold:  3,
		SharedPhoneThreshold: 3,
		FastSubmitMS:         6000,
		NoInteractionMS:      12000,
		PasteMaxKeyDowns:     3,

		Weights: config.RiskWeights{
			RepeatSubmission: 2,
			PhoneChanged:     2,
			NameChanged:      1,
			HighVolume:       2,
			SharedPhone:      3,
			TooFast:          2,
			NoInteraction:    2,
			PastedPhone:      2,
		},
	}
}

// Window returns the rolling window as a duration.
func Window(c config.RiskConfig) time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}
