package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event kind ranges used by domain conversations. The router does not
// interpret any of these except SubkeyProofKind, which it uses to route
// subkey-discovery replies back to the conversation that sent them, and
// MetadataKind, which it exempts from echo suppression.
const (
	AuthKindMin     = 27000
	AuthKindMax     = 27999
	PaymentKindMin  = 28000
	PaymentKindMax  = 28999
	IdentityKindMin = 29000
	IdentityKindMax = 29999
	CashuKindMin    = 29100
	CashuKindMax    = 29199

	// SubkeyProofKind is the reply adapters send/expect during subkey
	// discovery.
	SubkeyProofKind = 30000

	MetadataKind = 0
)

// Nonce is a fixed-size random value serialized as hex, matching the wire
// format expected by SubkeyMetadata consumers.
type Nonce [32]byte

func (n Nonce) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(n[:]))
}

func (n *Nonce) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(b) != len(n) {
		return fmt.Errorf("invalid nonce length: got %d want %d", len(b), len(n))
	}
	copy(n[:], b)
	return nil
}

// SubkeyPermission scopes what a subkey proof authorizes its holder to do.
type SubkeyPermission string

const (
	PermissionAuth    SubkeyPermission = "auth"
	PermissionPayment SubkeyPermission = "payment"
)
