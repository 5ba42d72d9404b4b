package protocol

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func testMetadata(name string, nonce byte, permissions ...SubkeyPermission) SubkeyMetadata {
	var n Nonce
	for i := range n {
		n[i] = nonce
	}
	return SubkeyMetadata{
		Name:        name,
		Nonce:       n,
		ValidFrom:   0,
		ExpiresAt:   9999999999,
		Permissions: permissions,
		Version:     1,
	}
}

func TestSubkeyCreationAndVerification(t *testing.T) {
	t.Parallel()

	masterSecret := nostr.GeneratePrivateKey()
	masterPubkey, err := nostr.GetPublicKey(masterSecret)
	require.NoError(t, err)

	metadata := testMetadata("test_subkey", 0)
	subSecret, subPubkey, err := CreateSubkey(masterSecret, metadata)
	require.NoError(t, err)
	require.NotEmpty(t, subSecret)
	require.NotEqual(t, masterSecret, subSecret)

	require.NoError(t, VerifySubkey(masterPubkey, subPubkey, metadata))

	proof := SubkeyProof{MainKey: masterPubkey, Metadata: metadata}
	require.NoError(t, proof.Verify(subPubkey))
}

func TestSubkeyDeterministicDerivation(t *testing.T) {
	t.Parallel()

	masterSecret := nostr.GeneratePrivateKey()
	metadata := testMetadata("deterministic_test", 0, PermissionAuth)

	secret1, pub1, err := CreateSubkey(masterSecret, metadata)
	require.NoError(t, err)
	secret2, pub2, err := CreateSubkey(masterSecret, metadata)
	require.NoError(t, err)

	require.Equal(t, pub1, pub2)
	require.Equal(t, secret1, secret2)
}

func TestSubkeyVerificationFailures(t *testing.T) {
	t.Parallel()

	masterSecret := nostr.GeneratePrivateKey()
	masterPubkey, err := nostr.GetPublicKey(masterSecret)
	require.NoError(t, err)

	wrongSecret := nostr.GeneratePrivateKey()
	wrongPubkey, err := nostr.GetPublicKey(wrongSecret)
	require.NoError(t, err)

	metadata := testMetadata("test_failures", 0, PermissionAuth)
	_, subPubkey, err := CreateSubkey(masterSecret, metadata)
	require.NoError(t, err)

	wrongMetadata := testMetadata("wrong_name", 0, PermissionAuth)
	require.Error(t, VerifySubkey(masterPubkey, subPubkey, wrongMetadata))
	require.Error(t, VerifySubkey(wrongPubkey, subPubkey, metadata))

	_, wrongSubkeyPub, err := CreateSubkey(wrongSecret, metadata)
	require.NoError(t, err)
	require.Error(t, VerifySubkey(masterPubkey, wrongSubkeyPub, metadata))
}

func TestSubkeyWithDifferentNonces(t *testing.T) {
	t.Parallel()

	masterSecret := nostr.GeneratePrivateKey()
	masterPubkey, err := nostr.GetPublicKey(masterSecret)
	require.NoError(t, err)

	metadata1 := testMetadata("nonce_test", 1, PermissionAuth)
	metadata2 := testMetadata("nonce_test", 2, PermissionAuth)

	_, pub1, err := CreateSubkey(masterSecret, metadata1)
	require.NoError(t, err)
	_, pub2, err := CreateSubkey(masterSecret, metadata2)
	require.NoError(t, err)

	require.NotEqual(t, pub1, pub2)
	require.NoError(t, VerifySubkey(masterPubkey, pub1, metadata1))
	require.NoError(t, VerifySubkey(masterPubkey, pub2, metadata2))
}

func TestMultipleSubkeysFromSameParent(t *testing.T) {
	t.Parallel()

	masterSecret := nostr.GeneratePrivateKey()
	masterPubkey, err := nostr.GetPublicKey(masterSecret)
	require.NoError(t, err)

	pubkeys := make(map[string]bool)
	for i := 0; i < 5; i++ {
		metadata := testMetadata("subkey", byte(i), PermissionAuth)
		_, pub, err := CreateSubkey(masterSecret, metadata)
		require.NoError(t, err)
		require.False(t, pubkeys[pub], "subkey pubkeys must be distinct")
		pubkeys[pub] = true
		require.NoError(t, VerifySubkey(masterPubkey, pub, metadata))
	}
}
