package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SubkeyMetadata is hashed to derive the tweak that turns a master key into
// a subkey. Two subkeys derived from the same master key and metadata are
// always identical, which is what lets a verifier re-derive and check them
// without ever seeing the master secret.
type SubkeyMetadata struct {
	Name        string             `json:"name"`
	Nonce       Nonce              `json:"nonce"`
	ValidFrom   int64              `json:"valid_from"`
	ExpiresAt   int64              `json:"expires_at"`
	Permissions []SubkeyPermission `json:"permissions"`
	Version     uint8              `json:"version"`
}

var errInvalidSubkeyMetadata = errors.New("invalid subkey metadata")

// Tweak hashes the metadata to a scalar in [1, n-1], same as the source's
// `H(metadata)`.
func (m SubkeyMetadata) Tweak() (*btcec.ModNScalar, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal subkey metadata: %w", err)
	}
	hash := sha256.Sum256(b)

	var tweak btcec.ModNScalar
	overflow := tweak.SetBytes(&hash)
	if overflow != 0 || tweak.IsZero() {
		return nil, errInvalidSubkeyMetadata
	}
	return &tweak, nil
}

// SubkeyProof is what a holder of a subkey broadcasts (or a listener
// replies with) to let a counterpart re-derive and trust the subkey.
type SubkeyProof struct {
	MainKey  string         `json:"main_key"`
	Metadata SubkeyMetadata `json:"metadata"`
}

// Verify checks that `subkeyPubkey` is exactly MainKey tweaked by
// H(Metadata), i.e. that the event author really is a valid subkey of the
// claimed master key. There is no signature on the proof itself: the proof
// is self-certifying because the tweak is deterministic.
func (p SubkeyProof) Verify(subkeyPubkey string) error {
	return VerifySubkey(p.MainKey, subkeyPubkey, p.Metadata)
}

// CreateSubkey tweaks a master secret key by the metadata's hash, returning
// the derived subkey's hex secret and hex x-only public key.
func CreateSubkey(masterSecretHex string, metadata SubkeyMetadata) (secretHex string, pubkeyHex string, err error) {
	tweak, err := metadata.Tweak()
	if err != nil {
		return "", "", err
	}

	secretBytes, err := decodeHex32(masterSecretHex)
	if err != nil {
		return "", "", fmt.Errorf("decode master secret: %w", err)
	}

	privKey := secp256k1PrivKeyFromBytes(secretBytes)

	// Normalize to even-y before tweaking, matching the BIP-340 x-only
	// convention the source relies on.
	if privKey.PubKey().SerializeCompressed()[0] == 0x03 {
		privKey = negatePrivKey(privKey)
	}

	tweaked := addTweakToPrivKey(privKey, tweak)

	return encodeHex32(tweaked.Serialize()), encodeHex32(schnorrSerialize(tweaked.PubKey())), nil
}

// VerifySubkey re-derives the tweak from metadata and checks that
// mainKeyHex tweaked by it equals subkeyHex.
func VerifySubkey(mainKeyHex, subkeyHex string, metadata SubkeyMetadata) error {
	tweak, err := metadata.Tweak()
	if err != nil {
		return err
	}

	mainPub, err := parseXOnlyPubkey(mainKeyHex)
	if err != nil {
		return fmt.Errorf("%w: main key: %v", errInvalidSubkeyMetadata, err)
	}
	subkeyPub, err := parseXOnlyPubkey(subkeyHex)
	if err != nil {
		return fmt.Errorf("%w: subkey: %v", errInvalidSubkeyMetadata, err)
	}

	tweaked := addTweakToPubKey(mainPub, tweak)
	if encodeHex32(schnorrSerialize(tweaked)) != encodeHex32(schnorrSerialize(subkeyPub)) {
		return errInvalidSubkeyMetadata
	}
	return nil
}

func parseXOnlyPubkey(hexStr string) (*btcec.PublicKey, error) {
	b, err := decodeHex32(hexStr)
	if err != nil {
		return nil, err
	}
	return schnorr.ParsePubKey(b[:])
}

func schnorrSerialize(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

func secp256k1PrivKeyFromBytes(b [32]byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(b[:])
	return priv
}

func negatePrivKey(priv *btcec.PrivateKey) *btcec.PrivateKey {
	var negated btcec.ModNScalar
	negated.Set(&priv.Key)
	negated.Negate()
	return btcec.PrivKeyFromScalar(&negated)
}

func addTweakToPrivKey(priv *btcec.PrivateKey, tweak *btcec.ModNScalar) *btcec.PrivateKey {
	var sum btcec.ModNScalar
	sum.Set(&priv.Key)
	sum.Add(tweak)
	return btcec.PrivKeyFromScalar(&sum)
}

// addTweakToPubKey computes pub + tweak*G using Jacobian point addition,
// the public-key side of the same tweak applied in addTweakToPrivKey.
func addTweakToPubKey(pub *btcec.PublicKey, tweak *btcec.ModNScalar) *btcec.PublicKey {
	var tweakPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(tweak, &tweakPoint)

	var pubPoint btcec.JacobianPoint
	pub.AsJacobian(&pubPoint)

	var result btcec.JacobianPoint
	btcec.AddNonConst(&pubPoint, &tweakPoint, &result)
	result.ToAffine()

	return btcec.NewPublicKey(&result.X, &result.Y)
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := decodeHex(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
