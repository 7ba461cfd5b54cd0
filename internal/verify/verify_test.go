package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barriomed/clinic/internal/db"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/store"
)

type captureSender struct {
	codes map[string]string
	err   error
}

func (s *captureSender) SendCode(_ context.Context, phone, code string) error {
	if s.err != nil {
		return s.err
	}
	s.codes[phone] = code
	return nil
}

func newOTP(t *testing.T) (*OTP, *captureSender, *time.Time) {
	t.Helper()
	sender := &captureSender{codes: map[string]string{}}
	o := NewOTP(db.NewTestDB(t), sender, 0)
	now := time.Now()
	o.now = func() time.Time { return now }
	return o, sender, &now
}

const phone = "9123456789"

func TestSendAndVerify(t *testing.T) {
	o, sender, _ := newOTP(t)
	ctx := context.Background()

	require.NoError(t, o.Send(ctx, phone))
	code := sender.codes[phone]
	assert.Len(t, code, login.OTPDigits)

	require.NoError(t, o.Verify(ctx, phone, code))

	// The challenge is consumed.
	assert.ErrorIs(t, o.Verify(ctx, phone, code), login.ErrVerificationFailed)
}

func TestVerifyWrongCode(t *testing.T) {
	o, sender, _ := newOTP(t)
	ctx := context.Background()
	require.NoError(t, o.Send(ctx, phone))

	wrong := "000000"
	if sender.codes[phone] == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, o.Verify(ctx, phone, wrong), login.ErrVerificationFailed)
	require.NoError(t, o.Verify(ctx, phone, sender.codes[phone]))
}

func TestVerifyLocksAfterMaxAttempts(t *testing.T) {
	o, sender, _ := newOTP(t)
	ctx := context.Background()
	require.NoError(t, o.Send(ctx, phone))

	wrong := "000000"
	if sender.codes[phone] == wrong {
		wrong = "111111"
	}
	for range MaxAttempts {
		assert.ErrorIs(t, o.Verify(ctx, phone, wrong), login.ErrVerificationFailed)
	}
	assert.ErrorIs(t, o.Verify(ctx, phone, sender.codes[phone]), login.ErrTooManyRequests)
}

func TestVerifyExpiredCode(t *testing.T) {
	o, sender, now := newOTP(t)
	ctx := context.Background()
	require.NoError(t, o.Send(ctx, phone))

	*now = now.Add(DefaultOTPTTL + time.Second)
	assert.ErrorIs(t, o.Verify(ctx, phone, sender.codes[phone]), login.ErrOTPExpired)
}

func TestSendIsThrottledPerPhone(t *testing.T) {
	o, _, now := newOTP(t)
	ctx := context.Background()

	require.NoError(t, o.Send(ctx, phone))
	assert.ErrorIs(t, o.Send(ctx, phone), login.ErrTooManyRequests)
	require.NoError(t, o.Send(ctx, "9170000000"))

	*now = now.Add(ResendInterval)
	require.NoError(t, o.Send(ctx, phone))
}

func TestFailedSendDoesNotThrottle(t *testing.T) {
	o, sender, _ := newOTP(t)
	ctx := context.Background()

	sender.err = errors.New("gateway down")
	require.Error(t, o.Send(ctx, phone))

	sender.err = nil
	require.NoError(t, o.Send(ctx, phone))
	assert.ErrorIs(t, o.Send(ctx, phone), login.ErrTooManyRequests)
}

func TestIdleLimitersArePruned(t *testing.T) {
	o, _, now := newOTP(t)
	ctx := context.Background()

	require.NoError(t, o.Send(ctx, phone))
	require.NoError(t, o.Send(ctx, "9170000000"))
	assert.Len(t, o.limiters, 2)

	*now = now.Add(ResendInterval)
	require.NoError(t, o.Send(ctx, "9180000000"))
	assert.Len(t, o.limiters, 1)
}

func TestResendReplacesCode(t *testing.T) {
	o, sender, now := newOTP(t)
	ctx := context.Background()

	require.NoError(t, o.Send(ctx, phone))
	first := sender.codes[phone]
	*now = now.Add(ResendInterval)
	require.NoError(t, o.Send(ctx, phone))
	second := sender.codes[phone]

	if first != second {
		assert.ErrorIs(t, o.Verify(ctx, phone, first), login.ErrVerificationFailed)
	}
	require.NoError(t, o.Verify(ctx, phone, second))
}

func TestEnrollAndCheckPIN(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	e := PINEnroller{DB: database}

	_, err := store.GrantRole(ctx, database, phone, model.RoleStaff)
	require.NoError(t, err)
	require.NoError(t, e.Enroll(ctx, phone, model.RoleStaff, "1234"))

	a, err := CheckPIN(ctx, database, phone, "1234")
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, a.Role)
	assert.NotEqual(t, "1234", a.PINHash)

	_, err = CheckPIN(ctx, database, phone, "9999")
	assert.ErrorIs(t, err, login.ErrVerificationFailed)

	_, err = CheckPIN(ctx, database, "9170000000", "1234")
	assert.ErrorIs(t, err, login.ErrVerificationFailed)

	// Re-enrolling replaces the PIN.
	require.NoError(t, e.Enroll(ctx, phone, model.RoleStaff, "5678"))
	_, err = CheckPIN(ctx, database, phone, "1234")
	assert.ErrorIs(t, err, login.ErrVerificationFailed)
	_, err = CheckPIN(ctx, database, phone, "5678")
	assert.NoError(t, err)
}

func TestEnrollRefusesUngrantedRoles(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	e := PINEnroller{DB: database}

	// A new number cannot pick an elevated role.
	for _, role := range []model.Role{model.RoleStaff, model.RoleDoctor, model.RoleAdmin} {
		assert.ErrorIs(t, e.Enroll(ctx, phone, role, "1234"), login.ErrRoleNotGranted)
	}
	a, err := store.GetAccountByPhone(ctx, database, phone)
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, e.Enroll(ctx, phone, model.RolePatient, "1234"))

	// An enrolled patient cannot promote themselves, and the PIN stays.
	assert.ErrorIs(t, e.Enroll(ctx, phone, model.RoleAdmin, "9999"), login.ErrRoleNotGranted)
	a, err = CheckPIN(ctx, database, phone, "1234")
	require.NoError(t, err)
	assert.Equal(t, model.RolePatient, a.Role)

	// An admin number cannot be re-enrolled under another role.
	const adminPhone = "9170000000"
	_, err = store.GrantRole(ctx, database, adminPhone, model.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, e.Enroll(ctx, adminPhone, model.RoleAdmin, "4321"))
	assert.ErrorIs(t, e.Enroll(ctx, adminPhone, model.RolePatient, "0000"), login.ErrRoleNotGranted)
	a, err = CheckPIN(ctx, database, adminPhone, "4321")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, a.Role)
}

func TestCheckPINRejectsGrantedAccountWithoutPIN(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	_, err := store.GrantRole(ctx, database, phone, model.RoleDoctor)
	require.NoError(t, err)

	_, err = CheckPIN(ctx, database, phone, "")
	assert.ErrorIs(t, err, login.ErrVerificationFailed)
}
