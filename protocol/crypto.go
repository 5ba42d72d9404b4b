package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/ekzyis/nip44"
	"github.com/nbd-wtf/go-nostr"
)

// LocalKeypair is the router's signing identity: a secp256k1 keypair plus
// an optional subkey proof, when this identity is itself a delegated
// subkey rather than a master key.
type LocalKeypair struct {
	secretKeyHex string
	publicKeyHex string
	subkeyProof  *SubkeyProof
}

// NewLocalKeypair derives the public key from the given hex secret key.
func NewLocalKeypair(secretKeyHex string, subkeyProof *SubkeyProof) (LocalKeypair, error) {
	pub, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return LocalKeypair{}, fmt.Errorf("derive public key: %w", err)
	}
	return LocalKeypair{
		secretKeyHex: secretKeyHex,
		publicKeyHex: pub,
		subkeyProof:  subkeyProof,
	}, nil
}

func (k LocalKeypair) SecretKey() string { return k.secretKeyHex }
func (k LocalKeypair) PublicKey() string { return k.publicKeyHex }

// SubkeyProof is non-nil when this keypair is a delegated subkey; callers
// use it to prove the delegation to counterparts that only know the
// master key.
func (k LocalKeypair) SubkeyProof() *SubkeyProof { return k.subkeyProof }

// SignEvent fills in PubKey, ID, and Sig using the keypair's secret key.
func (k LocalKeypair) SignEvent(evt *nostr.Event) error {
	evt.PubKey = k.publicKeyHex
	if err := evt.Sign(k.secretKeyHex); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

// EncryptNIP44 encrypts plaintext from this keypair's secret key to the
// given recipient hex public key, using NIP-44 v2 as the source does.
func EncryptNIP44(secretKeyHex, recipientPubkeyHex, plaintext string) (string, error) {
	sharedKey, err := conversationKey(secretKeyHex, recipientPubkeyHex)
	if err != nil {
		return "", err
	}
	ciphertext, err := nip44.Encrypt(sharedKey, plaintext, &nip44.EncryptOptions{})
	if err != nil {
		return "", fmt.Errorf("nip44 encrypt: %w", err)
	}
	return ciphertext, nil
}

// DecryptNIP44 decrypts content authored by senderPubkeyHex using this
// keypair's secret key.
func DecryptNIP44(secretKeyHex, senderPubkeyHex, content string) (string, error) {
	sharedKey, err := conversationKey(secretKeyHex, senderPubkeyHex)
	if err != nil {
		return "", err
	}
	plaintext, err := nip44.Decrypt(sharedKey, content)
	if err != nil {
		return "", fmt.Errorf("nip44 decrypt: %w", err)
	}
	return plaintext, nil
}

func conversationKey(secretKeyHex, counterpartPubkeyHex string) ([]byte, error) {
	secretBytes, err := decodeHex(secretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	// Nostr public keys are x-only (32 bytes); nip44 expects a full
	// compressed secp256k1 point, so the even-y parity byte is prepended.
	targetBytes, err := decodeHex("02" + counterpartPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode counterpart key: %w", err)
	}
	sharedKey, err := nip44.GenerateConversationKey(secretBytes, targetBytes)
	if err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	return sharedKey, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func encodeHex32(b []byte) string {
	return hex.EncodeToString(b)
}
