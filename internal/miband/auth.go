package miband

import (
	"crypto/aes"
	"fmt"

	"github.com/Micallam/MiBandPulse/internal/device"
)

// authRound identifies which reply of the handshake the band sent.
type authRound int

const (
	roundKeyAccepted authRound = iota + 1
	roundChallenge
	roundAuthenticated
)

func (r authRound) String() string {
	switch r {
	case roundKeyAccepted:
		return "key accepted"
	case roundChallenge:
		return "challenge"
	case roundAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("authRound(%d)", int(r))
	}
}

func sendKeyCommand(key []byte) []byte {
	return append([]byte{authSendKey, authByte}, key...)
}

func requestRandomCommand() []byte {
	return []byte{authRequestRandom, authByte}
}

func sendEncryptedCommand(ciphertext []byte) []byte {
	return append([]byte{authSendEncrypted | cryptFlags, authByte}, ciphertext...)
}

// parseAuthReply classifies a notification from the auth characteristic.
// The low nibble of the command byte carries the command; the band may set
// flags in the high nibble on the later rounds.
func parseAuthReply(value []byte) (authRound, error) {
	if len(value) < 3 || value[0] != authResponse || value[2] != authSuccess {
		return 0, fmt.Errorf("%w: unexpected auth reply % x", device.ErrProtocolMismatch, value)
	}

	switch {
	case value[1] == authSendKey:
		return roundKeyAccepted, nil
	case value[1]&0x0f == authRequestRandom:
		if len(value) < authChallengeStart+authChallengeLen {
			return 0, fmt.Errorf("%w: auth challenge too short (%d bytes)", device.ErrProtocolMismatch, len(value))
		}
		return roundChallenge, nil
	case value[1]&0x0f == authSendEncrypted:
		return roundAuthenticated, nil
	default:
		return 0, fmt.Errorf("%w: unexpected auth reply % x", device.ErrProtocolMismatch, value)
	}
}

// encryptChallenge answers the band's random challenge: AES-128 in ECB mode
// without padding over the 16 challenge bytes.
func encryptChallenge(key, reply []byte) ([]byte, error) {
	if len(reply) < authChallengeStart+authChallengeLen {
		return nil, fmt.Errorf("%w: auth challenge too short (%d bytes)", device.ErrProtocolMismatch, len(reply))
	}
	return EncryptECB(key, reply[authChallengeStart:authChallengeStart+authChallengeLen])
}

// EncryptECB encrypts whole blocks independently with key.
func EncryptECB(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid auth key: %w", err)
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("plaintext length %d is not a multiple of %d", len(plaintext), aes.BlockSize)
	}

	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}
	return out, nil
}
