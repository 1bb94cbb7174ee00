package overrides

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("", "issuer", nil)
	require.Error(t, err)
}

func TestMintAndValidateEmergencyAccess(t *testing.T) {
	clock := newTestClock()
	issuer, err := NewTokenIssuer("secret", "krongthai-test", clock.Now)
	require.NoError(t, err)

	token, expiresAt, err := issuer.MintEmergencyAccess("req-1", "staff-5", []string{"orders.read"}, 20*time.Minute)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(20*time.Minute), expiresAt)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "emergency_access", claims.Grant)
	require.Equal(t, "req-1", claims.RequestID)
	require.Equal(t, "staff-5", claims.Subject)
	require.Equal(t, []string{"orders.read"}, claims.Operations)
	require.Empty(t, claims.Controls)
}

func TestMintSecurityBypassDefaultsTTL(t *testing.T) {
	clock := newTestClock()
	issuer, err := NewTokenIssuer("secret", "krongthai-test", clock.Now)
	require.NoError(t, err)

	token, expiresAt, err := issuer.MintSecurityBypass("req-2", "staff-5", []string{"menu.lock"}, 0)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(DefaultGrantTTL), expiresAt)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "security_bypass", claims.Grant)
	require.Equal(t, []string{"menu.lock"}, claims.Controls)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	clock := newTestClock()
	issuer, err := NewTokenIssuer("secret", "krongthai-test", clock.Now)
	require.NoError(t, err)

	token, _, err := issuer.MintEmergencyAccess("req-1", "staff-5", []string{"orders.read"}, 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = issuer.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	clock := newTestClock()
	issuer, err := NewTokenIssuer("secret", "krongthai-test", clock.Now)
	require.NoError(t, err)

	token, _, err := issuer.MintEmergencyAccess("req-1", "staff-5", nil, time.Minute)
	require.NoError(t, err)

	other, err := NewTokenIssuer("different", "krongthai-test", clock.Now)
	require.NoError(t, err)
	_, err = other.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	clock := newTestClock()
	minter, err := NewTokenIssuer("secret", "someone-else", clock.Now)
	require.NoError(t, err)

	token, _, err := minter.MintEmergencyAccess("req-1", "staff-5", nil, time.Minute)
	require.NoError(t, err)

	verifier, err := NewTokenIssuer("secret", "krongthai-test", clock.Now)
	require.NoError(t, err)
	_, err = verifier.Validate(token)
	require.Error(t, err)
}
