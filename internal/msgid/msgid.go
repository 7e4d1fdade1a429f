// Package msgid encodes and decodes the opaque public message identifier.
//
// A token packs a mailbox id, a message id (both 24 hex characters) and a
// uid. The payload is encrypted with AES-CTR under an IV that is the
// truncated HMAC-SHA256 of the version byte and the plaintext, so the token
// is deterministic, does not reveal the ids, and fails to decode when any
// byte is altered.
//
// Layout before base64url: version(1) | iv(16) | ciphertext(28).
package msgid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	version   byte = 1
	idBytes        = 12
	ivBytes        = 16
	plainLen       = idBytes*2 + 4
	rawLen         = 1 + ivBytes + plainLen
	hkdfLabel      = "webmail public message id"
)

// TokenLen is the length of an encoded token in characters.
var TokenLen = base64.RawURLEncoding.EncodedLen(rawLen)

// ErrInvalid is returned for any token that does not decode. Callers treat it as "not found".
var ErrInvalid = errors.New("invalid or unknown message identifier")

// Ref identifies a single stored message.
type Ref struct {
	MailboxID string
	MessageID string
	UID       uint32
}

// Codec encodes and decodes tokens with keys derived from a process-wide secret.
type Codec struct {
	block  cipher.Block
	macKey []byte
}

// New derives the encryption and MAC keys from secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("msgid: secret must not be empty")
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfLabel))
	encKey := make([]byte, 32)
	macKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("msgid: derive key: %w", err)
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("msgid: derive key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("msgid: %w", err)
	}
	return &Codec{block: block, macKey: macKey}, nil
}

// Encode returns the token for ref. The same ref always yields the same token.
func (c *Codec) Encode(ref Ref) (string, error) {
	plain, err := pack(ref)
	if err != nil {
		return "", err
	}

	raw := make([]byte, rawLen)
	raw[0] = version
	iv := c.iv(version, plain)
	copy(raw[1:1+ivBytes], iv)
	cipher.NewCTR(c.block, iv).XORKeyStream(raw[1+ivBytes:], plain)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode verifies token and returns the ref it encodes, or ErrInvalid.
func (c *Codec) Decode(token string) (Ref, error) {
	if len(token) != TokenLen {
		return Ref{}, ErrInvalid
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != rawLen {
		return Ref{}, ErrInvalid
	}
	if raw[0] != version {
		return Ref{}, ErrInvalid
	}

	iv := raw[1 : 1+ivBytes]
	plain := make([]byte, plainLen)
	cipher.NewCTR(c.block, iv).XORKeyStream(plain, raw[1+ivBytes:])

	if !hmac.Equal(iv, c.iv(raw[0], plain)) {
		return Ref{}, ErrInvalid
	}

	ref := unpack(plain)
	if ref.UID == 0 {
		return Ref{}, ErrInvalid
	}
	return ref, nil
}

func (c *Codec) iv(v byte, plain []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte{v})
	mac.Write(plain)
	return mac.Sum(nil)[:ivBytes]
}

func pack(ref Ref) ([]byte, error) {
	mailbox, err := decodeID(ref.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("msgid: mailbox id: %w", err)
	}
	message, err := decodeID(ref.MessageID)
	if err != nil {
		return nil, fmt.Errorf("msgid: message id: %w", err)
	}
	if ref.UID == 0 {
		return nil, errors.New("msgid: uid must be positive")
	}

	plain := make([]byte, plainLen)
	copy(plain[:idBytes], mailbox)
	copy(plain[idBytes:idBytes*2], message)
	binary.BigEndian.PutUint32(plain[idBytes*2:], ref.UID)
	return plain, nil
}

func unpack(plain []byte) Ref {
	return Ref{
		MailboxID: hex.EncodeToString(plain[:idBytes]),
		MessageID: hex.EncodeToString(plain[idBytes : idBytes*2]),
		UID:       binary.BigEndian.Uint32(plain[idBytes*2:]),
	}
}

// IsID reports whether s is a 24 character lowercase hex identifier.
func IsID(s string) bool {
	_, err := decodeID(s)
	return err == nil
}

func decodeID(s string) ([]byte, error) {
	if len(s) != idBytes*2 {
		return nil, fmt.Errorf("%q is not %d hex characters", s, idBytes*2)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return nil, fmt.Errorf("%q is not lowercase hex", s)
		}
	}
	return hex.DecodeString(s)
}

// NewID returns a fresh 24 hex character identifier: a 4 byte big-endian
// unix timestamp followed by 8 random bytes.
func NewID() string {
	b := make([]byte, idBytes)
	binary.BigEndian.PutUint32(b[:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(b[4:]); err != nil {
		panic(fmt.Sprintf("msgid: read random: %v", err))
	}
	return hex.EncodeToString(b)
}
