package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
)

const settingsKeyEnv = "RM_SETTINGS_ENCRYPTION_KEY"
const settingsPrevKeyEnv = "RM_SETTINGS_ENCRYPTION_PREV_KEY"

// sealedSettingValue is the at-rest envelope for protected setting values.
// The enc tag is a format version, not an algorithm choice.
type sealedSettingValue struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// ProtectSettingValue seals raw when the key looks sensitive and an
// encryption key is configured. Everything else passes through untouched.
func ProtectSettingValue(key string, raw []byte) []byte {
	if !sensitiveSettingKey(key) {
		return raw
	}
	gcm := primaryGCM()
	if gcm == nil {
		return raw
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return raw
	}
	// The setting key is bound as AAD so a ciphertext cannot be replayed
	// under a different key name.
	ct := gcm.Seal(nil, nonce, raw, settingAAD(key))
	payload := sealedSettingValue{
		Enc:   "aes-gcm-v1",
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return raw
	}
	return out
}

// RevealSettingValue opens a sealed envelope, trying the current key first
// and then the previous one. Unsealed or foreign payloads pass through.
func RevealSettingValue(key string, raw []byte) []byte {
	if len(raw) == 0 || !sensitiveSettingKey(key) {
		return raw
	}
	nonce, ct, ok := parseSealed(raw)
	if !ok {
		return raw
	}
	for _, gcm := range allGCMs() {
		if pt, err := gcm.Open(nil, nonce, ct, settingAAD(key)); err == nil {
			return pt
		}
	}
	return raw
}

// ReencryptSettingValue reseals a value under the current primary key.
// Reports whether the stored bytes should be refreshed: true after a key
// rotation (the envelope only opens with the prev key) and for legacy
// plaintext rows written before a key was configured.
func ReencryptSettingValue(key string, raw []byte) ([]byte, bool) {
	if len(raw) == 0 || !sensitiveSettingKey(key) {
		return raw, false
	}
	gcm := primaryGCM()
	if gcm == nil {
		return raw, false
	}
	if nonce, ct, ok := parseSealed(raw); ok {
		if _, err := gcm.Open(nil, nonce, ct, settingAAD(key)); err == nil {
			return raw, false
		}
	}
	plain := RevealSettingValue(key, raw)
	sealed := ProtectSettingValue(key, plain)
	if slices.Equal(sealed, raw) {
		return raw, false
	}
	return sealed, true
}

func parseSealed(raw []byte) (nonce, ct []byte, ok bool) {
	var payload sealedSettingValue
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, false
	}
	if payload.Enc != "aes-gcm-v1" || payload.Nonce == "" || payload.Data == "" {
		return nil, nil, false
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, nil, false
	}
	ct, err = base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, nil, false
	}
	return nonce, ct, true
}

func settingAAD(key string) []byte {
	return []byte(strings.TrimSpace(strings.ToLower(key)))
}

func primaryGCM() cipher.AEAD {
	keyBytes := settingsKeyBytes(strings.TrimSpace(os.Getenv(settingsKeyEnv)))
	if len(keyBytes) == 0 {
		return nil
	}
	return newGCM(keyBytes)
}

func allGCMs() []cipher.AEAD {
	keys := []string{
		strings.TrimSpace(os.Getenv(settingsKeyEnv)),
		strings.TrimSpace(os.Getenv(settingsPrevKeyEnv)),
	}
	out := make([]cipher.AEAD, 0, 2)
	seen := map[string]struct{}{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keyBytes := settingsKeyBytes(key)
		if len(keyBytes) == 0 {
			continue
		}
		if gcm := newGCM(keyBytes); gcm != nil {
			out = append(out, gcm)
		}
	}
	return out
}

// settingsKeyBytes accepts a base64 key or raw bytes and clips to an AES
// key size. Anything shorter than 16 bytes is rejected.
func settingsKeyBytes(k string) []byte {
	if strings.TrimSpace(k) == "" {
		return nil
	}
	keyBytes, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		keyBytes = []byte(k)
	}
	switch len(keyBytes) {
	case 16, 24, 32:
	default:
		if len(keyBytes) < 16 {
			return nil
		}
		if len(keyBytes) < 24 {
			keyBytes = keyBytes[:16]
		} else if len(keyBytes) < 32 {
			keyBytes = keyBytes[:24]
		} else {
			keyBytes = keyBytes[:32]
		}
	}
	return keyBytes
}

func newGCM(keyBytes []byte) cipher.AEAD {
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	return gcm
}

func sensitiveSettingKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	markers := []string{"secret", "token", "password", "api_key", "private_key"}
	for _, m := range markers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}
