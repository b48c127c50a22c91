package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
)

// TicketSigner produces the authentication tag printed into ticket QR codes:
// HMAC-SHA256(secret, code:order_id:event_id) as lowercase hex. Gate-side
// validators re-derive and compare without any store lookup.
type TicketSigner struct {
	secret []byte
}

func NewTicketSigner(secret string) *TicketSigner {
	return &TicketSigner{secret: []byte(secret)}
}

func (s *TicketSigner) Sign(code string, orderID, eventID uuid.UUID) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	mac.Write([]byte(":"))
	mac.Write([]byte(orderID.String()))
	mac.Write([]byte(":"))
	mac.Write([]byte(eventID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *TicketSigner) Verify(code string, orderID, eventID uuid.UUID, sig string) bool {
	want := s.Sign(code, orderID, eventID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
