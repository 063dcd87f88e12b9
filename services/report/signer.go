package report

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

// SignatureSuffix is appended to a report path to form its signature sidecar.
const SignatureSuffix = ".sig"

// Signer signs and verifies report files with an Ed25519 key pair derived from an age identity.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// Signature is the sidecar written next to a signed report.
type Signature struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
	Recipient string `json:"recipient,omitempty"`
	Signature string `json:"signature"`
}

// NewSigner builds a Signer from an age secret key and/or a base64 Ed25519 public key.
// With only a public key the signer can verify but not sign.
func NewSigner(secretKey, publicKey string) (*Signer, error) {
	secret := strings.TrimSpace(secretKey)
	pub := strings.TrimSpace(publicKey)
	if secret == "" && pub == "" {
		return nil, errors.New("age secret key or public key must be set")
	}

	s := &Signer{}
	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse age secret key: %w", err)
		}
		s.privateKey = ed25519.NewKeyFromSeed(seed)
		s.publicKey = ed25519.PublicKey(s.privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			if r := identity.Recipient(); r != nil {
				s.recipient = r.String()
			}
		}
	}

	if pub != "" {
		decoded, err := decodePublicKey(pub)
		if err != nil {
			return nil, err
		}
		if s.publicKey == nil {
			s.publicKey = decoded
		} else if !bytes.Equal(s.publicKey, decoded) {
			return nil, errors.New("public key does not match age secret key")
		}
	}
	return s, nil
}

// CanSign reports whether the signer holds a private key.
func (s *Signer) CanSign() bool {
	return s != nil && len(s.privateKey) != 0
}

// Sign produces the signature sidecar for payload.
func (s *Signer) Sign(payload []byte) (Signature, error) {
	if !s.CanSign() {
		return Signature{}, errors.New("signer configured without private key")
	}
	sig := ed25519.Sign(s.privateKey, payload)
	return Signature{
		Algorithm: "ed25519",
		PublicKey: s.PublicKeyBase64(),
		Recipient: s.recipient,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks sig against payload. The sidecar's embedded key must match the
// configured key when one is configured.
func (s *Signer) Verify(payload []byte, sig Signature) error {
	if s == nil {
		return errors.New("nil signer")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.Signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(raw))
	}

	key := s.publicKey
	if sig.PublicKey != "" {
		embedded, err := decodePublicKey(sig.PublicKey)
		if err != nil {
			return err
		}
		if key != nil && !bytes.Equal(key, embedded) {
			return errors.New("report signed by unexpected key")
		}
		if key == nil {
			key = embedded
		}
	}
	if key == nil {
		return errors.New("no public key available for verification")
	}
	if !ed25519.Verify(key, payload, raw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// SignFile writes the sidecar for the file at path.
func (s *Signer) SignFile(path string) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	sigPath := path + SignatureSuffix
	if err := writeFileAtomic(sigPath, data); err != nil {
		return "", err
	}
	return sigPath, nil
}

// VerifyFile checks the file at path against its sidecar.
func (s *Signer) VerifyFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	data, err := os.ReadFile(path + SignatureSuffix)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	var sig Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("decode signature file: %w", err)
	}
	return s.Verify(payload, sig)
}

// PublicKeyBase64 returns the Ed25519 public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient when the signer was built from a secret key.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodePublicKey(raw string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if l := len(decoded); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return ed25519.PublicKey(decoded), nil
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
