package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-review-links"

func TestLinkSigner_RoundTrip(t *testing.T) {
	signer, err := NewLinkSigner(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := signer.Sign(42)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	assert.NoError(t, signer.Verify(token, 42))
}

func TestLinkSigner_UniqueTokens(t *testing.T) {
	signer, err := NewLinkSigner(testSecret, 0)
	require.NoError(t, err)

	a, err := signer.Sign(1)
	require.NoError(t, err)
	b, err := signer.Sign(1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLinkSigner_Rejects(t *testing.T) {
	signer, err := NewLinkSigner(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := signer.Sign(42)
	require.NoError(t, err)

	other, err := NewLinkSigner("another-secret-of-enough-length", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Sign(42)
	require.NoError(t, err)

	expiring, err := NewLinkSigner(testSecret, time.Minute)
	require.NoError(t, err)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiring.Sign(42)
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		approvalID int64
	}{
		{"empty token", "", 42},
		{"garbage", "not-a-jwt", 42},
		{"other approval", token, 43},
		{"tampered", token[:len(token)-2] + "xx", 42},
		{"foreign secret", foreign, 42},
		{"expired", expired, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signer.Verify(tt.token, tt.approvalID)
			assert.ErrorIs(t, err, ErrInvalidLink)
		})
	}
}

func TestNewLinkSigner_ShortSecret(t *testing.T) {
	_, err := NewLinkSigner("short", time.Hour)
	assert.Error(t, err)
}
