package cryptoengine

import "encoding/base64"

// WirePayload is the JSON wire shape exactly matching
// vaultsandbox-client-go's EncryptedPayload, so the client package in the
// pack can decrypt what this engine produces without translation.
type WirePayload struct {
	V           int            `json:"v"`
	Algs        AlgorithmSuite `json:"algs"`
	CtKem       string         `json:"ct_kem"`
	Nonce       string         `json:"nonce"`
	AAD         string         `json:"aad"`
	Ciphertext  string         `json:"ciphertext"`
	Sig         string         `json:"sig"`
	ServerSigPk string         `json:"server_sig_pk"`
}

func toBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// ToWire encodes b as the client-compatible JSON payload shape.
func (b *EncryptedBlob) ToWire() WirePayload {
	return WirePayload{
		V:           protocolVersion,
		Algs:        suite,
		CtKem:       toBase64URL(b.CtKem),
		Nonce:       toBase64URL(b.Nonce),
		AAD:         toBase64URL(b.AAD),
		Ciphertext:  toBase64URL(b.Ciphertext),
		Sig:         toBase64URL(b.Sig),
		ServerSigPk: toBase64URL(b.ServerSigPk),
	}
}
