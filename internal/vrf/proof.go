package vrf

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/eddsa"
	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"

	"github.com/atmx/wager-engine/internal/model"
)

// Domain prefixes every signed message so oracle signatures cannot be
// replayed from another protocol using the same key.
const Domain = "wager-engine/vrf/v1"

var suite = suites.MustFind("Ed25519")

// Message is the byte string the oracle signs for one request.
func Message(gameID, requestID string) []byte {
	return []byte(Domain + "|" + gameID + "|" + requestID)
}

// DeriveOutcome maps a proof to its outcome: the big-endian uint64 of the
// first eight bytes of SHA-256(proof).
func DeriveOutcome(proof []byte) uint64 {
	sum := sha256.Sum256(proof)
	return binary.BigEndian.Uint64(sum[:8])
}

// Verifier checks that an outcome was honestly produced for a request.
type Verifier interface {
	Verify(gameID, requestID string, outcome uint64, proof []byte) error
}

// EdDSAVerifier accepts Ed25519 signatures by a fixed oracle key whose
// hash matches the claimed outcome.
type EdDSAVerifier struct {
	public kyber.Point
}

// NewEdDSAVerifier parses a hex-encoded oracle public key.
func NewEdDSAVerifier(publicHex string) (*EdDSAVerifier, error) {
	raw, err := hex.DecodeString(publicHex)
	if err != nil {
		return nil, fmt.Errorf("vrf: decode oracle public key: %w", err)
	}
	pub := suite.Point()
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("vrf: parse oracle public key: %w", err)
	}
	return &EdDSAVerifier{public: pub}, nil
}

func (v *EdDSAVerifier) Verify(gameID, requestID string, outcome uint64, proof []byte) error {
	if err := eddsa.Verify(v.public, Message(gameID, requestID), proof); err != nil {
		return model.ErrInvalidProof.Wrap(err)
	}
	if DeriveOutcome(proof) != outcome {
		return model.ErrInvalidProof.With("outcome %d does not match proof", outcome)
	}
	return nil
}

// Signer holds an oracle key and produces proofs.
type Signer struct {
	key *eddsa.EdDSA
}

// GenerateSigner creates a fresh oracle key.
func GenerateSigner() *Signer {
	return &Signer{key: eddsa.NewEdDSA(random.New())}
}

// LoadSigner parses a key produced by MarshalHex.
func LoadSigner(keyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("vrf: decode oracle key: %w", err)
	}
	key := new(eddsa.EdDSA)
	if err := key.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("vrf: parse oracle key: %w", err)
	}
	return &Signer{key: key}, nil
}

// MarshalHex encodes the private key (seed followed by public key).
func (s *Signer) MarshalHex() (string, error) {
	raw, err := s.key.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// PublicHex encodes the public key for verifier configuration.
func (s *Signer) PublicHex() (string, error) {
	raw, err := s.key.Public.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Prove signs the request and returns the outcome the signature implies.
// Ed25519 signatures are deterministic, so a request has exactly one
// valid outcome under a given key.
func (s *Signer) Prove(gameID, requestID string) (uint64, []byte, error) {
	proof, err := s.key.Sign(Message(gameID, requestID))
	if err != nil {
		return 0, nil, fmt.Errorf("vrf: sign request %s: %w", requestID, err)
	}
	return DeriveOutcome(proof), proof, nil
}
