// Package snooze suggests how long a user usually defers a reminder.
package snooze

import (
	"context"
	"math"
	"sort"
	"time"

	"remindly/internal/entitlement"
	"remindly/internal/metrics"

	"go.uber.org/zap"
)

const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonBasedOnHistory      = "based_on_history"
	ReasonUnavailable         = "unavailable"

	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

type Suggestion struct {
	SuggestedMinutes int    `json:"suggested_minutes"`
	Reason           string `json:"reason"`
	Confidence       string `json:"confidence"`
	SampleSize       int    `json:"sample_size"`
}

type Config struct {
	DefaultMinutes int
	MinSamples     int
	HighSamples    int
	Window         time.Duration
	HistoryLimit   int
	// HalfLife is the age at which a sample counts half as much.
	HalfLife time.Duration
	// HourBand doubles the weight of samples taken within this many hours
	// of the current hour of day.
	HourBand   int
	RoundTo    int
	MinMinutes int
	MaxMinutes int
}

func DefaultConfig() Config {
	return Config{
		DefaultMinutes: 15,
		MinSamples:     3,
		HighSamples:    10,
		Window:         30 * 24 * time.Hour,
		HistoryLimit:   200,
		HalfLife:       7 * 24 * time.Hour,
		HourBand:       2,
		RoundTo:        5,
		MinMinutes:     5,
		MaxMinutes:     1440,
	}
}

type Estimator struct {
	History      History
	Entitlements entitlement.Checker
	Config       Config
	Logger       *zap.Logger
	Now          func() time.Time
}

func NewEstimator(h History, ent entitlement.Checker, cfg Config, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{History: h, Entitlements: ent, Config: cfg, Logger: logger, Now: time.Now}
}

func (e *Estimator) fallback(reason string) *Suggestion {
	metrics.IncSnoozeSuggestion(reason)
	return &Suggestion{
		SuggestedMinutes: e.Config.DefaultMinutes,
		Reason:           reason,
		Confidence:       ConfidenceLow,
	}
}

// Suggest returns nil when the user's plan lacks smart snooze. Every other
// failure degrades to the default suggestion.
func (e *Estimator) Suggest(ctx context.Context, userID uint64, reminderID *uint64) *Suggestion {
	log := e.Logger.With(zap.Uint64("user_id", userID))

	if e.Entitlements != nil {
		ok, err := e.Entitlements.IsFeatureEnabled(ctx, userID, entitlement.FeatureSmartSnooze)
		if err != nil {
			log.Warn("entitlement lookup failed", zap.Error(err))
			return e.fallback(ReasonUnavailable)
		}
		if !ok {
			return nil
		}
	}

	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now().UTC()
	}

	samples, err := e.History.Recent(ctx, userID, now.Add(-e.Config.Window), e.Config.HistoryLimit)
	if err != nil {
		log.Warn("snooze history read failed", zap.Error(err))
		return e.fallback(ReasonUnavailable)
	}

	if reminderID != nil {
		var own []Sample
		for _, s := range samples {
			if s.ReminderID == *reminderID {
				own = append(own, s)
			}
		}
		if len(own) >= e.Config.MinSamples {
			samples = own
		}
	}

	s := Estimate(samples, now, e.Config)
	metrics.IncSnoozeSuggestion(s.Reason)
	return &s
}

// Estimate is the pure part of Suggest.
func Estimate(samples []Sample, now time.Time, cfg Config) Suggestion {
	n := len(samples)
	if n == 0 || n < cfg.MinSamples {
		return Suggestion{
			SuggestedMinutes: cfg.DefaultMinutes,
			Reason:           ReasonInsufficientHistory,
			Confidence:       ConfidenceLow,
			SampleSize:       n,
		}
	}

	type weighted struct {
		minutes int
		weight  float64
	}
	ws := make([]weighted, 0, n)
	total := 0.0
	for _, s := range samples {
		w := 1.0
		if cfg.HalfLife > 0 {
			age := now.Sub(s.SnoozedAt)
			if age < 0 {
				age = 0
			}
			w = math.Pow(0.5, float64(age)/float64(cfg.HalfLife))
		}
		if hourDistance(s.HourOfDay, now.Hour()) <= cfg.HourBand {
			w *= 2
		}
		ws = append(ws, weighted{minutes: s.Minutes, weight: w})
		total += w
	}

	sort.SliceStable(ws, func(i, j int) bool { return ws[i].minutes < ws[j].minutes })

	median := ws[len(ws)-1].minutes
	acc := 0.0
	for _, x := range ws {
		acc += x.weight
		if acc >= total/2 {
			median = x.minutes
			break
		}
	}

	confidence := ConfidenceMedium
	if n >= cfg.HighSamples {
		confidence = ConfidenceHigh
	}
	return Suggestion{
		SuggestedMinutes: roundClamp(median, cfg),
		Reason:           ReasonBasedOnHistory,
		Confidence:       confidence,
		SampleSize:       n,
	}
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= 24
	if 24-d < d {
		d = 24 - d
	}
	return d
}

func roundClamp(m int, cfg Config) int {
	if cfg.RoundTo > 1 {
		m = int(math.Round(float64(m)/float64(cfg.RoundTo))) * cfg.RoundTo
	}
	if cfg.MinMinutes > 0 && m < cfg.MinMinutes {
		m = cfg.MinMinutes
	}
	if cfg.MaxMinutes > 0 && m > cfg.MaxMinutes {
		m = cfg.MaxMinutes
	}
	return m
}
