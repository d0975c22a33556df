package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	codec, err := NewCodec(testKey)
	require.NoError(t, err)
	return codec
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	signed, err := codec.Sign("a@x.com", map[string]any{"tenant": "main"}, time.Minute)
	require.NoError(t, err)
	require.Len(t, strings.Split(signed, "."), 3)

	claims, err := codec.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claims.Subject)
	require.Equal(t, "main", claims.Extra["tenant"])
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, claims.IssuedAt.Add(time.Minute), claims.ExpiresAt, time.Second)
}

func TestVerifyExpiredAfterTTL(t *testing.T) {
	t.Parallel()

	issuedAt := time.Now()
	codec := newTestCodec(t).WithClock(func() time.Time { return issuedAt })

	signed, err := codec.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.NoError(t, err)

	later := codec.WithClock(func() time.Time { return issuedAt.Add(2 * time.Minute) })
	_, err = later.Verify(signed)
	require.ErrorIs(t, err, ErrExpired)
	require.False(t, later.IsValid(signed, "a@x.com"))

	subject, err := later.ExtractSubject(signed)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", subject)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	signed, err := other.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = codec.ExtractSubject(signed)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsSwappedPayload(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	first, err := codec.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)
	second, err := codec.Sign("b@x.com", nil, time.Minute)
	require.NoError(t, err)

	a := strings.Split(first, ".")
	b := strings.Split(second, ".")
	forged := strings.Join([]string{a[0], b[1], a[2]}, ".")

	_, err = codec.Verify(forged)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.False(t, codec.IsValid(forged, "b@x.com"))
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	for _, raw := range []string{"", "   ", "not-a-token", "a.b", "a.b.c"} {
		_, err := codec.Verify(raw)
		require.ErrorIs(t, err, ErrMalformed, raw)

		_, err = codec.ExtractSubject(raw)
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestSignIgnoresReservedExtraClaims(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	signed, err := codec.Sign("a@x.com", map[string]any{"sub": "root@x.com", "exp": 1}, time.Minute)
	require.NoError(t, err)

	claims, err := codec.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claims.Subject)
	require.NotContains(t, claims.Extra, "sub")
}

func TestSignProducesDistinctTokensWithinOneSecond(t *testing.T) {
	t.Parallel()

	fixed := time.Now()
	codec := newTestCodec(t).WithClock(func() time.Time { return fixed })

	first, err := codec.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)
	second, err := codec.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestIsValidRequiresSubjectMatch(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	signed, err := codec.Sign("a@x.com", nil, time.Minute)
	require.NoError(t, err)

	require.True(t, codec.IsValid(signed, "a@x.com"))
	require.False(t, codec.IsValid(signed, "b@x.com"))
}

func TestNewCodecRejectsShortKey(t *testing.T) {
	t.Parallel()

	_, err := NewCodec([]byte("short"))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeKey(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString(testKey)
	key, err := DecodeKey(encoded)
	require.NoError(t, err)
	require.Equal(t, testKey, key)

	_, err = DecodeKey("%%%not-base64%%%")
	require.ErrorIs(t, err, ErrEncoding)
}
