package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestIssueAndVerify(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	now := time.Now()
	raw, err := s.Issue("ven-1", "First Church", now)
	require.NoError(t, err)

	cl, err := s.Verify(raw, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "ven-1", cl.VenueID)
	require.Equal(t, "First Church", cl.Name)
}

func TestVerifyExpired(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	now := time.Now()
	raw, err := s.Issue("ven-1", "First Church", now)
	require.NoError(t, err)

	_, err = s.Verify(raw, now.Add(Validity+time.Hour))
	require.Error(t, err)
	require.Equal(t, proto.KindUnauthenticated, proto.KindOf(err))
}

func TestVerifyWrongKey(t *testing.T) {
	s1, err := NewSigner(testKey)
	require.NoError(t, err)
	s2, err := NewSigner([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	raw, err := s1.Issue("ven-1", "First Church", time.Now())
	require.NoError(t, err)

	_, err = s2.Verify(raw, time.Now())
	require.Error(t, err)
}

func TestShortKeyRejected(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	require.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	_, err = s.Verify("not-a-jwt", time.Now())
	require.Error(t, err)
}
