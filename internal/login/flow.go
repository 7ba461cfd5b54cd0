// Package login implements the app's sign-in flow: pick a role, verify a
// mobile number by OTP, then create an offline PIN.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/barriomed/clinic/internal/model"
)

// Step is a stage of the login flow.
type Step string

// Login steps, in order.
const (
	StepRole     Step = "role"
	StepPhone    Step = "phone"
	StepOTP      Step = "otp"
	StepPIN      Step = "pin"
	StepComplete Step = "complete"
)

// Index returns the position of s in the flow, used for step indicators.
func (s Step) Index() int {
	switch s {
	case StepRole:
		return 0
	case StepPhone:
		return 1
	case StepOTP:
		return 2
	case StepPIN:
		return 3
	case StepComplete:
		return 4
	}
	return -1
}

var (
	// ErrWrongStep is returned when an action does not belong to the current step.
	ErrWrongStep = errors.New("action not allowed at this step")

	// ErrNoRoleSelected is returned when continuing without a role.
	ErrNoRoleSelected = errors.New("no role selected")

	// ErrVerificationFailed is returned when the OTP does not match.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrOTPExpired is returned when the OTP is no longer valid.
	ErrOTPExpired = errors.New("verification code expired")

	// ErrTooManyRequests is returned while codes cannot be sent or checked yet.
	ErrTooManyRequests = errors.New("too many requests, try again later")

	// ErrRoleNotGranted is returned when the phone number may not sign in
	// with the selected role.
	ErrRoleNotGranted = errors.New("this number is not registered for the selected role")

	// ErrStepTimeout is returned when a collaborator did not answer in time.
	ErrStepTimeout = errors.New("verification service timed out")
)

// PhoneDigits is the length of a mobile number without the +63 prefix.
const PhoneDigits = 10

// OTPDigits is the length of a one-time code.
const OTPDigits = 6

// PINDigits is the length of an offline PIN.
const PINDigits = 4

// DefaultStepTimeout bounds each collaborator call.
const DefaultStepTimeout = 10 * time.Second

// RoleCache remembers the last role chosen on this device.
type RoleCache interface {
	LoadCachedRole(ctx context.Context) (model.Role, bool, error)
	SaveCachedRole(ctx context.Context, role model.Role) error
}

// Verifier sends and checks one-time codes for a phone number.
type Verifier interface {
	Send(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) error
}

// Enroller stores the offline PIN of a verified phone number.
type Enroller interface {
	Enroll(ctx context.Context, phone string, role model.Role, pin string) error
}

// Result is what a completed flow reports upward.
type Result struct {
	Role  model.Role
	Phone string
}

// Config wires a Flow to its collaborators.
type Config struct {
	Cache       RoleCache
	Verifier    Verifier
	Enroller    Enroller
	StepTimeout time.Duration
	// OnComplete is called once, after the PIN is enrolled.
	OnComplete func(ctx context.Context, r Result) error
}

// View is a snapshot of a flow.
type View struct {
	Step        Step       `json:"step"`
	StepIndex   int        `json:"step_index"`
	Role        model.Role `json:"role,omitempty"`
	MaskedPhone string     `json:"masked_phone,omitempty"`
}

// Flow is one device's way through login. Failed collaborator calls leave
// the step unchanged so the user can retry.
type Flow struct {
	mu    sync.Mutex
	cfg   Config
	step  Step
	role  model.Role
	phone string
}

// Start begins a flow. A valid cached role is preselected and the flow skips
// to the phone step; cache failures only cost the user the shortcut.
func Start(ctx context.Context, cfg Config) *Flow {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	f := &Flow{cfg: cfg, step: StepRole}
	if cfg.Cache == nil {
		return f
	}

	role, ok, err := cfg.Cache.LoadCachedRole(ctx)
	if err != nil {
		slog.Warn("failed to load cached role", "error", err)
		return f
	}
	if ok && role.Valid() {
		f.role = role
		f.step = StepPhone
	}
	return f
}

// View returns the current state.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{Step: f.step, StepIndex: f.step.Index(), Role: f.role}
	if f.phone != "" {
		v.MaskedPhone = MaskPhone(f.phone)
	}
	return v
}

// SelectRole picks the role to sign in as.
func (f *Flow) SelectRole(role model.Role) error {
	if !role.Valid() {
		return model.Invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepRole {
		return ErrWrongStep
	}
	f.role = role
	return nil
}

// ContinueFromRole moves on to the phone step.
func (f *Flow) ContinueFromRole() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepRole {
		return ErrWrongStep
	}
	if f.role == "" {
		return ErrNoRoleSelected
	}
	f.step = StepPhone
	return nil
}

// Back returns to the previous step: otp to phone, phone to role.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.step {
	case StepOTP:
		f.step = StepPhone
	case StepPhone:
		f.step = StepRole
	default:
		return ErrWrongStep
	}
	return nil
}

// call runs a collaborator call under the step timeout and maps a deadline
// hit to ErrStepTimeout.
func (f *Flow) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStepTimeout, err)
	}
	return err
}

// SubmitPhone validates the number and asks the verifier to send a code.
func (f *Flow) SubmitPhone(ctx context.Context, input string) error {
	phone, err := NormalizePhone(input)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepPhone {
		return ErrWrongStep
	}

	if err := f.call(ctx, func(ctx context.Context) error { return f.cfg.Verifier.Send(ctx, phone) }); err != nil {
		return err
	}
	f.phone = phone
	f.step = StepOTP
	return nil
}

// ResendOTP asks the verifier for a fresh code.
func (f *Flow) ResendOTP(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepOTP {
		return ErrWrongStep
	}
	return f.call(ctx, func(ctx context.Context) error { return f.cfg.Verifier.Send(ctx, f.phone) })
}

// VerifyOTP checks the code sent to the phone number.
func (f *Flow) VerifyOTP(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != OTPDigits || !allDigits(code) {
		return model.Invalid("code", fmt.Sprintf("enter the %d-digit code", OTPDigits))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepOTP {
		return ErrWrongStep
	}

	if err := f.call(ctx, func(ctx context.Context) error { return f.cfg.Verifier.Verify(ctx, f.phone, code) }); err != nil {
		return err
	}
	f.step = StepPIN
	return nil
}

// SubmitPIN enrolls the PIN, caches the role and completes the flow.
func (f *Flow) SubmitPIN(ctx context.Context, pin, confirm string) (Result, error) {
	if len(pin) != PINDigits || !allDigits(pin) {
		return Result{}, model.Invalid("pin", fmt.Sprintf("PIN must be %d digits", PINDigits))
	}
	if pin != confirm {
		return Result{}, model.Invalid("confirm_pin", "PINs do not match. Try again.")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepPIN {
		return Result{}, ErrWrongStep
	}

	err := f.call(ctx, func(ctx context.Context) error {
		return f.cfg.Enroller.Enroll(ctx, f.phone, f.role, pin)
	})
	if err != nil {
		return Result{}, err
	}

	if f.cfg.Cache != nil {
		if err := f.cfg.Cache.SaveCachedRole(ctx, f.role); err != nil {
			slog.Warn("failed to save cached role", "role", f.role, "error", err)
		}
	}

	r := Result{Role: f.role, Phone: f.phone}
	if f.cfg.OnComplete != nil {
		if err := f.cfg.OnComplete(ctx, r); err != nil {
			return Result{}, fmt.Errorf("completing login: %w", err)
		}
	}
	f.step = StepComplete
	return r, nil
}

// NormalizePhone strips everything but digits and keeps at most ten. Fewer
// than ten digits is a validation error.
func NormalizePhone(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > PhoneDigits {
		digits = digits[:PhoneDigits]
	}
	if len(digits) < PhoneDigits {
		return "", model.Invalid("phone", "please enter a valid mobile number")
	}
	return digits, nil
}

// FormatPhone groups up to ten digits as 9XX XXX XXXX.
func FormatPhone(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) > PhoneDigits {
		d = d[:PhoneDigits]
	}
	switch {
	case len(d) > 6:
		return d[:3] + " " + d[3:6] + " " + d[6:]
	case len(d) > 3:
		return d[:3] + " " + d[3:]
	}
	return d
}

// MaskPhone renders a normalized number as +63 912 *** 6789.
func MaskPhone(phone string) string {
	if len(phone) != PhoneDigits {
		return "+63 " + phone
	}
	return fmt.Sprintf("+63 %s *** %s", phone[:3], phone[6:])
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
