package security

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketSigner_Deterministic(t *testing.T) {
	s := NewTicketSigner("test-secret")
	orderID := uuid.New()
	eventID := uuid.New()

	sig1 := s.Sign("code-1", orderID, eventID)
	sig2 := s.Sign("code-1", orderID, eventID)
	require.Equal(t, sig1, sig2)
	require.Len(t, sig1, 64, "hex-encoded sha256")
	assert.True(t, s.Verify("code-1", orderID, eventID, sig1))
}

func TestTicketSigner_TamperDetection(t *testing.T) {
	s := NewTicketSigner("test-secret")
	orderID := uuid.New()
	eventID := uuid.New()
	sig := s.Sign("code-1", orderID, eventID)

	assert.False(t, s.Verify("code-2", orderID, eventID, sig), "different code")
	assert.False(t, s.Verify("code-1", uuid.New(), eventID, sig), "different order")
	assert.False(t, s.Verify("code-1", orderID, uuid.New(), sig), "different event")
	assert.False(t, s.Verify("code-1", orderID, eventID, sig[:63]+"0"), "flipped sig byte")
	assert.False(t, s.Verify("code-1", orderID, eventID, ""), "empty sig")
}

func TestTicketSigner_SecretMatters(t *testing.T) {
	orderID := uuid.New()
	eventID := uuid.New()

	a := NewTicketSigner("secret-a").Sign("code", orderID, eventID)
	b := NewTicketSigner("secret-b").Sign("code", orderID, eventID)
	assert.NotEqual(t, a, b)
}
