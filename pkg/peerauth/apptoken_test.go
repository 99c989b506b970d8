package peerauth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meowith/meowith/pkg/permission"
)

func testService(t *testing.T) *AppTokenService {
	t.Helper()
	s, err := NewAppTokenService(AppTokenConfig{Secret: "01234567890123456789012345678901"})
	require.NoError(t, err)
	return s
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	s := testService(t)
	appID, issuerID, bucketID := uuid.New(), uuid.New(), uuid.New()

	scopes := []permission.Scope{
		{Allow: permission.Of(permission.PermListDirectory)},
		{BucketID: func() *[16]byte { b := [16]byte(bucketID); return &b }(), Allow: permission.Of(permission.PermUploadFile)},
	}

	tok, err := s.Issue(appID, issuerID, "ci-token", 7, scopes, time.Hour)
	require.NoError(t, err)

	claims, err := s.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, appID, claims.AppID)
	assert.Equal(t, issuerID, claims.IssuerID)
	assert.Equal(t, uint64(7), claims.Nonce)

	got := claims.PermissionScopes()
	require.Len(t, got, 2)
	assert.True(t, permission.Check(permission.EffectiveAllowance(got, [16]byte(bucketID)), permission.Of(permission.PermUploadFile, permission.PermListDirectory)))
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	s := testService(t)
	tok, err := s.Issue(uuid.New(), uuid.New(), "x", 1, nil, -time.Hour)
	require.NoError(t, err)

	_, err = s.Validate(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	s := testService(t)
	tok, err := s.Issue(uuid.New(), uuid.New(), "x", 1, nil, time.Hour)
	require.NoError(t, err)

	other, err := NewAppTokenService(AppTokenConfig{Secret: "abcdefghijabcdefghijabcdefghijab"})
	require.NoError(t, err)

	_, err = other.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimKeyStableAcrossCalls(t *testing.T) {
	claims := &AppClaims{AppID: uuid.New(), IssuerID: uuid.New(), Name: "n", Nonce: 42}
	assert.Equal(t, claims.Key(), claims.Key())
}
