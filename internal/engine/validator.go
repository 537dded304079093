// Package engine decides which candidate devices are reachable and how roles
// are allocated among them. It touches no persisted state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshroster/internal/domain"
	"meshroster/internal/identity"
	"meshroster/internal/probe"
)

// Reasons reported by the validator
const (
	ReasonOK               = "device responded"
	ReasonToolUnavailable  = "probe tool not installed"
	ReasonIdentityMismatch = "expected identifier not found"
	ReasonExhausted        = "no device info returned after retries"
	ReasonCancelled        = "validation cancelled"
)

const (
	DefaultAttempts       = 3
	DefaultRetryDelay     = time.Second
	DefaultSerialAttempts = 3
	DefaultSerialDelay    = 500 * time.Millisecond
)

// InfoSource supplies probe results; probe.InfoCache implements it
type InfoSource interface {
	Get(ctx context.Context, deviceID string) (probe.Entry, error)
	Refresh(ctx context.Context, deviceID string) (probe.Entry, error)
}

// SerialChecker opens and closes a local serial port to test that it is usable
type SerialChecker interface {
	Check(ctx context.Context, port string) error
}

// Validator probes one device through every spelling of its address with retries
type Validator struct {
	info           InfoSource
	serial         SerialChecker
	attempts       int
	delay          time.Duration
	serialAttempts int
	serialDelay    time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *zap.Logger
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithAttempts sets the probe attempts per address variant
func WithAttempts(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.attempts = n
		}
	}
}

// WithRetryDelay sets the base delay; attempt i waits delay*(1+i)
func WithRetryDelay(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d >= 0 {
			v.delay = d
		}
	}
}

// WithSerialChecker enables the serial liveness check
func WithSerialChecker(c SerialChecker) ValidatorOption {
	return func(v *Validator) {
		v.serial = c
	}
}

// WithSerialRetry sets the serial open attempts and base delay
func WithSerialRetry(attempts int, delay time.Duration) ValidatorOption {
	return func(v *Validator) {
		if attempts > 0 {
			v.serialAttempts = attempts
		}
		if delay >= 0 {
			v.serialDelay = delay
		}
	}
}

// WithSleep replaces the context-aware sleep, for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ValidatorOption {
	return func(v *Validator) {
		v.sleep = sleep
	}
}

// NewValidator creates a validator reading probe results from info
func NewValidator(info InfoSource, logger *zap.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		info:           info,
		attempts:       DefaultAttempts,
		delay:          DefaultRetryDelay,
		serialAttempts: DefaultSerialAttempts,
		serialDelay:    DefaultSerialDelay,
		sleep:          sleepContext,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate decides whether deviceID answers the probe and, when expected is
// non-empty, whether the answer mentions it. Every path returns a result.
func (v *Validator) Validate(ctx context.Context, deviceID, expected string) domain.ValidationResult {
	log := v.logger.With(zap.String("device", deviceID))

	if identity.IsSerialPort(deviceID) && v.serial != nil {
		if res, ok := v.checkSerial(ctx, deviceID); !ok {
			log.Warn("serial port unusable", zap.String("reason", res.Reason))
			return res
		}
	}

	var lastRaw string
	for _, variant := range identity.Variants(deviceID) {
		entry, err := v.probeVariant(ctx, variant)
		switch {
		case errors.Is(err, probe.ErrToolNotFound):
			log.Warn("probe tool unavailable")
			return fail(deviceID, domain.FailureToolUnavailable, ReasonToolUnavailable, "")
		case errors.Is(err, errCancelled):
			return fail(deviceID, domain.FailureUnreachable, ReasonCancelled, lastRaw)
		}

		lastRaw = entry.Raw
		if strings.TrimSpace(entry.Raw) == "" {
			log.Debug("variant returned no output", zap.String("variant", variant))
			continue
		}

		res, qualifying := judge(deviceID, variant, expected, entry)
		if !qualifying {
			log.Debug("variant returned json without device info", zap.String("variant", variant))
			continue
		}
		if res.OK {
			log.Info("device validated", zap.String("variant", variant))
		} else {
			log.Warn("device answered with wrong identity",
				zap.String("variant", variant),
				zap.String("expected", expected))
		}
		return res
	}

	log.Warn("device unreachable", zap.Int("attempts", v.attempts))
	return fail(deviceID, domain.FailureUnreachable, ReasonExhausted, lastRaw)
}

var errCancelled = errors.New(ReasonCancelled)

// probeVariant tries one spelling up to v.attempts times.
// The first attempt may be served from cache; retries force a fresh probe.
func (v *Validator) probeVariant(ctx context.Context, variant string) (probe.Entry, error) {
	var last probe.Entry
	for attempt := 0; attempt < v.attempts; attempt++ {
		if ctx.Err() != nil {
			return last, errCancelled
		}

		var (
			entry probe.Entry
			err   error
		)
		if attempt == 0 {
			entry, err = v.info.Get(ctx, variant)
		} else {
			entry, err = v.info.Refresh(ctx, variant)
		}
		if errors.Is(err, probe.ErrToolNotFound) {
			return entry, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return last, errCancelled
			}
			v.logger.Debug("probe attempt failed",
				zap.String("variant", variant),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		last = entry
		if strings.TrimSpace(entry.Raw) != "" {
			return entry, nil
		}

		if attempt < v.attempts-1 {
			if err := v.sleep(ctx, v.delay*time.Duration(1+attempt)); err != nil {
				return last, errCancelled
			}
		}
	}
	return last, nil
}

func (v *Validator) checkSerial(ctx context.Context, port string) (domain.ValidationResult, bool) {
	var lastErr error
	for attempt := 0; attempt < v.serialAttempts; attempt++ {
		lastErr = v.serial.Check(ctx, port)
		if lastErr == nil {
			return domain.ValidationResult{}, true
		}
		v.logger.Debug("serial open failed",
			zap.String("port", port),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
		if err := v.sleep(ctx, v.serialDelay*time.Duration(1+attempt)); err != nil {
			return fail(port, domain.FailureUnreachable, ReasonCancelled, ""), false
		}
	}
	reason := fmt.Sprintf("could not open serial port %s after %d attempts: %v", port, v.serialAttempts, lastErr)
	return fail(port, domain.FailureUnreachable, reason, ""), false
}

// judge classifies non-empty output. qualifying is false for JSON that
// decodes but carries no device-info key.
func judge(deviceID, variant, expected string, entry probe.Entry) (domain.ValidationResult, bool) {
	parsed := entry.Parsed
	res := domain.ValidationResult{
		OK:      true,
		Reason:  ReasonOK,
		Device:  deviceID,
		Variant: variant,
		Raw:     entry.Raw,
		Parsed:  &parsed,
	}

	haystack := entry.Raw
	if obj, ok := probe.DecodeObject(entry.Raw); ok {
		if !probe.HasDeviceInfo(obj) {
			return res, false
		}
		serialized, err := json.Marshal(obj)
		if err == nil {
			haystack = string(serialized)
		}
	} else if parsed.Kind != domain.ProbeInfoRaw {
		// decoded, but not an object
		return res, false
	}

	if expected != "" && !strings.Contains(strings.ToLower(haystack), strings.ToLower(expected)) {
		res.OK = false
		res.Reason = ReasonIdentityMismatch
		res.Kind = domain.FailureIdentityMismatch
	}
	return res, true
}

func fail(deviceID string, kind domain.FailureKind, reason, raw string) domain.ValidationResult {
	return domain.ValidationResult{
		OK:     false,
		Reason: reason,
		Kind:   kind,
		Device: deviceID,
		Raw:    raw,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
