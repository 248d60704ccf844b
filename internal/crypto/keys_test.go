package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	master := []byte(strings.Repeat("m", 32))

	session, err := DeriveKey(master, PurposeSession)
	require.NoError(t, err)
	assert.Len(t, session, DerivedKeySize)

	again, err := DeriveKey(master, PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, session, again, "derivation is deterministic")

	state, err := DeriveKey(master, PurposeOAuthState)
	require.NoError(t, err)
	assert.NotEqual(t, session, state)

	_, err = DeriveKey(nil, PurposeSession)
	assert.Error(t, err)
}

func TestNewPurposeSigner_SeparatesPurposes(t *testing.T) {
	master := []byte(strings.Repeat("m", 32))

	sessions, err := NewPurposeSigner(PurposeSession, master)
	require.NoError(t, err)
	states, err := NewPurposeSigner(PurposeOAuthState, master)
	require.NoError(t, err)

	token := sessions.Sign([]byte(`{"uid":"u1"}`))
	_, err = states.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = sessions.Verify(token)
	assert.NoError(t, err)
}
