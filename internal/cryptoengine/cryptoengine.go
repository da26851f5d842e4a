// Package cryptoengine implements the server side of the encrypt_for_client
// contract (spec §6): ML-KEM-768 encapsulation, HKDF-SHA-512 key
// derivation, AES-256-GCM sealing, and an ML-DSA-65 signature over the
// published transcript. It is the mirror of the decrypt side implemented
// in vaultsandbox-client-go/internal/crypto/{decrypt,verify,keypair}.go:
// the transcript construction, HKDF info/salt layout, and wire field
// names are copied byte-for-byte from that package so payloads this
// engine produces decrypt cleanly with the client SDK in the pack.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/hkdf"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

const (
	hkdfContext     = "vaultsandbox:email:v1"
	aesKeySize      = 32
	aesNonceSize    = 12
	protocolVersion = 1
)

// AlgorithmSuite names the four primitives in play, carried on the wire
// so the client can select the matching decrypt path.
type AlgorithmSuite struct {
	KEM  string `json:"kem"`
	Sig  string `json:"sig"`
	AEAD string `json:"aead"`
	KDF  string `json:"kdf"`
}

var suite = AlgorithmSuite{KEM: "ML-KEM-768", Sig: "ML-DSA-65", AEAD: "AES-256-GCM", KDF: "HKDF-SHA-512"}

// EncryptedBlob is the six-byte-string record of spec §3.
type EncryptedBlob struct {
	CtKem       []byte
	Nonce       []byte
	AAD         []byte
	Ciphertext  []byte
	Sig         []byte
	ServerSigPk []byte
}

// Size is the accounting size spec §4.8 uses: the sum of the six
// byte-string lengths plus 100 bytes of structural overhead.
func (b *EncryptedBlob) Size() int {
	return len(b.CtKem) + len(b.Nonce) + len(b.AAD) + len(b.Ciphertext) + len(b.Sig) + len(b.ServerSigPk) + 100
}

// Engine holds the server's ML-DSA-65 signing identity.
type Engine struct {
	signPriv    *mldsa65.PrivateKey
	signPub     *mldsa65.PublicKey
	serverSigPk []byte
}

// New generates a fresh ML-DSA-65 signing identity. In production this
// identity should be persisted across restarts so previously delivered
// blobs remain verifiable against a stable pinned key; persistence is an
// external concern (spec §1 places certificate/key material management
// out of scope), so New always mints a new identity; this package has no
// constructor that loads a persisted one.
func New() (*Engine, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoengine: generate signing key: %w", err)
	}
	pkBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cryptoengine: marshal signing public key: %w", err)
	}
	return &Engine{signPriv: priv, signPub: pub, serverSigPk: pkBytes}, nil
}

// ServerSigPk returns the server's ML-DSA-65 public key, published so
// clients can pin it at inbox-registration time.
func (e *Engine) ServerSigPk() []byte {
	return e.serverSigPk
}

// EncryptForClient implements spec §6's encrypt_for_client contract.
func (e *Engine) EncryptForClient(clientKemPk, plaintext, aad []byte) (*EncryptedBlob, error) {
	var pub mlkem768.PublicKey
	if err := pub.Unpack(clientKemPk); err != nil {
		return nil, &gwerrors.CryptoFailure{Cause: fmt.Errorf("unpack client KEM public key: %w", err)}
	}

	ctKem := make([]byte, mlkem768.CiphertextSize)
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	pub.EncapsulateTo(ctKem, sharedSecret, nil)

	aesKey, err := deriveKey(sharedSecret, aad, ctKem)
	if err != nil {
		return nil, &gwerrors.CryptoFailure{Cause: fmt.Errorf("derive key: %w", err)}
	}

	nonce := make([]byte, aesNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, &gwerrors.CryptoFailure{Cause: fmt.Errorf("generate nonce: %w", err)}
	}

	ciphertext, err := encryptAESGCM(aesKey, nonce, aad, plaintext)
	if err != nil {
		return nil, &gwerrors.CryptoFailure{Cause: fmt.Errorf("seal: %w", err)}
	}

	transcript := buildTranscript(protocolVersion, suite, ctKem, nonce, aad, ciphertext, e.serverSigPk)
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(e.signPriv, transcript, nil, false, sig); err != nil {
		return nil, &gwerrors.CryptoFailure{Cause: fmt.Errorf("sign transcript: %w", err)}
	}

	return &EncryptedBlob{
		CtKem:       ctKem,
		Nonce:       nonce,
		AAD:         aad,
		Ciphertext:  ciphertext,
		Sig:         sig,
		ServerSigPk: e.serverSigPk,
	}, nil
}

// deriveKey mirrors vaultsandbox-client-go/internal/crypto.deriveKey
// exactly: salt is SHA-256(ctKem); info is context || aad_len(4B BE) || aad.
func deriveKey(sharedSecret, aad, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)
	salt := saltHash[:]

	aadLen := make([]byte, 4)
	binary.BigEndian.PutUint32(aadLen, uint32(len(aad)))

	info := make([]byte, 0, len(hkdfContext)+4+len(aad))
	info = append(info, []byte(hkdfContext)...)
	info = append(info, aadLen...)
	info = append(info, aad...)

	reader := hkdf.New(sha512.New, sharedSecret, salt, info)
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func encryptAESGCM(key, nonce, aad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// buildTranscript mirrors vaultsandbox-client-go/internal/crypto.buildTranscript.
func buildTranscript(version int, algs AlgorithmSuite, ctKem, nonce, aad, ciphertext, serverSigPk []byte) []byte {
	transcript := []byte{byte(version)}
	algsCiphersuite := fmt.Sprintf("%s:%s:%s:%s", algs.KEM, algs.Sig, algs.AEAD, algs.KDF)
	transcript = append(transcript, []byte(algsCiphersuite)...)
	transcript = append(transcript, []byte(hkdfContext)...)
	transcript = append(transcript, ctKem...)
	transcript = append(transcript, nonce...)
	transcript = append(transcript, aad...)
	transcript = append(transcript, ciphertext...)
	transcript = append(transcript, serverSigPk...)
	return transcript
}
