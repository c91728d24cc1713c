package validator

import (
	"fmt"
	"sync/atomic"

	"gold-tracker/internal/config"
)

// Settings is an immutable snapshot of the validation thresholds. Values are
// copied, so a snapshot never changes after it has been taken.
type Settings struct {
	WindowDays         int
	SigmaThreshold     float64
	SingleSampleBand   float64
	LocalRatioLow      float64
	LocalRatioHigh     float64
	FXDailyChangeLimit float64
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		WindowDays:         20,
		SigmaThreshold:     3.0,
		SingleSampleBand:   0.10,
		LocalRatioLow:      0.95,
		LocalRatioHigh:     1.12,
		FXDailyChangeLimit: 0.02,
	}
}

// SettingsFromConfig converts the validation config section.
func SettingsFromConfig(cfg config.ValidationConfig) Settings {
	return Settings{
		WindowDays:         cfg.WindowDays,
		SigmaThreshold:     cfg.SigmaThreshold,
		SingleSampleBand:   cfg.SingleSampleBand,
		LocalRatioLow:      cfg.LocalRatioLow,
		LocalRatioHigh:     cfg.LocalRatioHigh,
		FXDailyChangeLimit: cfg.FXDailyChangeLimit,
	}
}

// Validate rejects nonsensical thresholds.
func (s Settings) Validate() error {
	if s.WindowDays <= 0 {
		return fmt.Errorf("window must be positive, got %d", s.WindowDays)
	}
	if s.SigmaThreshold <= 0 {
		return fmt.Errorf("sigma threshold must be positive, got %v", s.SigmaThreshold)
	}
	if s.SingleSampleBand < 0 || s.FXDailyChangeLimit < 0 {
		return fmt.Errorf("bands cannot be negative")
	}
	if s.LocalRatioLow <= 0 || s.LocalRatioHigh < s.LocalRatioLow {
		return fmt.Errorf("ratio band [%v, %v] is invalid", s.LocalRatioLow, s.LocalRatioHigh)
	}
	return nil
}

// SettingsHolder allows thresholds to be swapped while validations run.
type SettingsHolder struct {
	current atomic.Pointer[Settings]
}

// NewSettingsHolder stores the initial settings.
func NewSettingsHolder(s Settings) *SettingsHolder {
	h := &SettingsHolder{}
	h.Store(s)
	return h
}

// Load returns a copy of the current settings.
func (h *SettingsHolder) Load() Settings {
	if p := h.current.Load(); p != nil {
		return *p
	}
	return DefaultSettings()
}

// Store replaces the settings for subsequent validations.
func (h *SettingsHolder) Store(s Settings) {
	h.current.Store(&s)
}
