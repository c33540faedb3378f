// ABOUTME: ssh-ed25519 signature verification for agent key-possession proofs
// ABOUTME: Agents sign a single-use server challenge with their registered key

package auth

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ErrWrongKeyType is returned for registered keys that are not ssh-ed25519.
var ErrWrongKeyType = errors.New("public key must be ssh-ed25519")

// ValidateAgentPublicKey checks that a key offered at agent registration
// parses as an ssh-ed25519 authorized key.
func ValidateAgentPublicKey(pubkeyStr string) error {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if pubkey.Type() != ssh.KeyAlgoED25519 {
		return ErrWrongKeyType
	}
	return nil
}

// VerifyAgentSignature checks that signature (base64, SSH wire format) was
// produced over message by the private half of the agent's registered
// authorized key. Replay protection comes from the message itself: callers
// pass a single-use challenge that the challenge store consumes.
func VerifyAgentSignature(pubkeyStr string, message []byte, signatureB64 string) error {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if pubkey.Type() != ssh.KeyAlgoED25519 {
		return ErrWrongKeyType
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}

	if err := pubkey.Verify(message, sig); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
