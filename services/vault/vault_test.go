package vault

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapSource struct {
	usernames map[uint]string
	encrypted map[uint]string
}

func (s *mapSource) Credential(accountID uint) (string, string, error) {
	username, ok := s.usernames[accountID]
	if !ok {
		return "", "", &Error{Kind: ErrKindNotFound, Err: errors.New("no credentials configured")}
	}
	return username, s.encrypted[accountID], nil
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := ResolveKey("", "unit-test-session-secret")
	require.NoError(t, err)
	require.Len(t, key, 32)
	return key
}

func TestSealGetRoundtrip(t *testing.T) {
	src := &mapSource{
		usernames: map[uint]string{1: "chief"},
		encrypted: map[uint]string{},
	}
	v, err := New(src, testKey(t))
	require.NoError(t, err)

	sealed, err := v.Seal("hunter2")
	require.NoError(t, err)
	require.NotContains(t, sealed, "hunter2")
	src.encrypted[1] = sealed

	creds, err := v.Get(1)
	require.NoError(t, err)
	require.Equal(t, "chief", creds.Username)
	require.Equal(t, "hunter2", creds.Password)
}

func TestSealIsNonDeterministic(t *testing.T) {
	v, err := New(&mapSource{}, testKey(t))
	require.NoError(t, err)

	first, err := v.Seal("hunter2")
	require.NoError(t, err)
	second, err := v.Seal("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, first, second, "nonce must differ per seal")
}

func TestGetMissingCredentials(t *testing.T) {
	v, err := New(&mapSource{usernames: map[uint]string{}}, testKey(t))
	require.NoError(t, err)

	_, err = v.Get(42)
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestGetTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	src := &mapSource{
		usernames: map[uint]string{1: "chief"},
		encrypted: map[uint]string{},
	}
	v, err := New(src, key)
	require.NoError(t, err)

	sealed, err := v.Seal("hunter2")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	src.encrypted[1] = base64.StdEncoding.EncodeToString(raw)

	_, err = v.Get(1)
	require.Error(t, err)
	require.False(t, IsNotFound(err))
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ErrKindDecryptionFailed, ve.Kind)
}

func TestGetWrongKey(t *testing.T) {
	src := &mapSource{
		usernames: map[uint]string{1: "chief"},
		encrypted: map[uint]string{},
	}
	sealer, err := New(src, testKey(t))
	require.NoError(t, err)
	sealed, err := sealer.Seal("hunter2")
	require.NoError(t, err)
	src.encrypted[1] = sealed

	otherKey, err := ResolveKey("", "a-different-secret")
	require.NoError(t, err)
	reader, err := New(src, otherKey)
	require.NoError(t, err)

	_, err = reader.Get(1)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ErrKindDecryptionFailed, ve.Kind)
}

func TestGetGarbageCiphertext(t *testing.T) {
	src := &mapSource{
		usernames: map[uint]string{1: "chief"},
		encrypted: map[uint]string{1: "not base64 at all!!"},
	}
	v, err := New(src, testKey(t))
	require.NoError(t, err)

	_, err = v.Get(1)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ErrKindDecryptionFailed, ve.Kind)
}

func TestResolveKeyPrecedence(t *testing.T) {
	// Dedicated key as base64-encoded 32 bytes
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	key, err := ResolveKey(base64.StdEncoding.EncodeToString(raw), "secret")
	require.NoError(t, err)
	require.Equal(t, raw, key)

	// Dedicated key as raw 32-character string
	literal := "0123456789abcdef0123456789abcdef"
	key, err = ResolveKey(literal, "secret")
	require.NoError(t, err)
	require.Equal(t, []byte(literal), key)

	// Dedicated key of other lengths is stretched, deterministically
	first, err := ResolveKey("short-key", "secret")
	require.NoError(t, err)
	second, err := ResolveKey("short-key", "other-secret")
	require.NoError(t, err)
	require.Len(t, first, 32)
	require.Equal(t, first, second, "session secret must not influence a dedicated key")

	// Fallback derives from the session secret
	derived, err := ResolveKey("", "secret")
	require.NoError(t, err)
	require.Len(t, derived, 32)
	again, err := ResolveKey("", "secret")
	require.NoError(t, err)
	require.Equal(t, derived, again)

	// Nothing configured is an error
	_, err = ResolveKey("", "")
	require.Error(t, err)
}
