package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

func TestCredentialRoundTrip(t *testing.T) {
	codec, err := NewCodec("correct horse battery staple")
	require.NoError(t, err)

	cred := domain.SessionCredential{
		AccessToken:          "at",
		RefreshToken:         "rt",
		AccessTokenExpiresAt: 1_700_003_600,
		SubjectID:            "user-1",
		Email:                "owner@acme.test",
		Provider:             "hydra",
	}
	sealed, err := codec.EncodeCredential(cred, time.Hour)
	require.NoError(t, err)
	require.Len(t, strings.Split(sealed, "."), 5, "compact JWE")
	require.NotContains(t, sealed, "owner@acme.test")

	got, err := codec.DecodeCredential(sealed)
	require.NoError(t, err)
	require.Equal(t, cred, got)
}

func TestDecodeRejectsForeignKey(t *testing.T) {
	a, err := NewCodec("secret-a")
	require.NoError(t, err)
	b, err := NewCodec("secret-b")
	require.NoError(t, err)

	sealed, err := a.EncodeCredential(domain.SessionCredential{AccessToken: "at"}, time.Hour)
	require.NoError(t, err)

	_, err = b.DecodeCredential(sealed)
	require.ErrorIs(t, err, port.ErrSessionInvalid)
}

func TestDecodeRejectsGarbageAndEmpty(t *testing.T) {
	codec, err := NewCodec("secret")
	require.NoError(t, err)

	_, err = codec.DecodeCredential("not-a-jwe")
	require.ErrorIs(t, err, port.ErrSessionInvalid)

	_, err = codec.DecodeCredential("")
	require.ErrorIs(t, err, port.ErrSessionMissing)
}

func TestOpenRejectsExpiredEnvelope(t *testing.T) {
	codec, err := NewCodec("secret")
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	codec.now = func() time.Time { return now }

	sealed, err := codec.EncodeLoginState(domain.LoginState{State: "s", Verifier: "v"}, 10*time.Minute)
	require.NoError(t, err)

	state, err := codec.DecodeLoginState(sealed)
	require.NoError(t, err)
	require.Equal(t, "v", state.Verifier)

	now = now.Add(11 * time.Minute)
	_, err = codec.DecodeLoginState(sealed)
	require.ErrorIs(t, err, port.ErrSessionInvalid)
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec("")
	require.Error(t, err)
}
