package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/stretchr/testify/require"
)

func TestEncryptForClientRoundTrip(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	clientPub, clientPriv, err := mlkem768.GenerateKeyPair(nil)
	require.NoError(t, err)
	clientPubBytes, err := clientPub.MarshalBinary()
	require.NoError(t, err)

	plaintext := []byte(`{"subject":"hi"}`)
	aad := []byte("vaultsandbox:metadata")

	blob, err := engine.EncryptForClient(clientPubBytes, plaintext, aad)
	require.NoError(t, err)
	require.NotEmpty(t, blob.CtKem)
	require.Len(t, blob.Nonce, aesNonceSize)

	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	clientPriv.DecapsulateTo(sharedSecret, blob.CtKem)

	key, err := deriveKey(sharedSecret, aad, blob.CtKem)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	decrypted, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)

	transcript := buildTranscript(protocolVersion, suite, blob.CtKem, blob.Nonce, blob.AAD, blob.Ciphertext, blob.ServerSigPk)
	var pub mldsa65.PublicKey
	require.NoError(t, pub.UnmarshalBinary(blob.ServerSigPk))
	require.True(t, mldsa65.Verify(&pub, transcript, nil, blob.Sig))
}

func TestEncryptedBlobSize(t *testing.T) {
	b := &EncryptedBlob{
		CtKem:       make([]byte, 10),
		Nonce:       make([]byte, 12),
		AAD:         make([]byte, 5),
		Ciphertext:  make([]byte, 20),
		Sig:         make([]byte, 30),
		ServerSigPk: make([]byte, 40),
	}
	require.Equal(t, 10+12+5+20+30+40+100, b.Size())
}

func TestEncryptForClientRejectsBadPublicKey(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)
	_, err = engine.EncryptForClient([]byte("not a key"), []byte("data"), []byte("aad"))
	require.Error(t, err)
}
