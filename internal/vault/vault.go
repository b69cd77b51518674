// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vault implements the AES-256-GCM secure-input store: per
// pipeline, a map of key to encrypted token, persisted as JSON with
// atomic temp-write-then-rename semantics.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"

	fyerrors "github.com/fyreflow/core/pkg/errors"
	"github.com/fyreflow/core/pkg/secrets"
)

const (
	// tokenVersion prefixes every ciphertext token produced by Encrypt.
	tokenVersion = "v1"

	gcmNonceSize = 12
	gcmTagSize   = 16
	aesKeySize   = 32

	masterKeyFileName = ".secrets-key"
	saltFileName      = ".secrets-salt"
	secretsSubdir     = "secrets"

	envMasterKey = "DASHBOARD_SECRETS_KEY"

	argon2Time       = 3
	argon2MemoryKB   = 64 * 1024
	argon2Threads    = 4
)

// Vault is the per-process, file-backed secrets store. The AES key is
// resolved once at construction (singleton behind the caller's chosen
// lifetime) and never re-derived.
type Vault struct {
	dataDir string
	aesKey  []byte // derived, 32 bytes

	mu sync.RWMutex // guards nothing about aesKey (immutable); serializes file writes per pipeline
}

// Open resolves the vault's master key (env var, then OS keychain, then
// file, generating one if absent) and derives the working AES key via argon2id over a
// persisted salt. dataDir is the root directory containing
// ".secrets-key", ".secrets-salt" and the "secrets/" subdirectory.
func Open(dataDir string) (*Vault, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fyerrors.Wrapf(err, "creating vault data dir %s", dataDir)
	}

	raw, err := resolveMasterKeyMaterial(dataDir)
	if err != nil {
		return nil, &fyerrors.SecretsUnavailableError{Reason: "resolving master key", Cause: err}
	}

	salt, err := loadOrCreateSalt(dataDir)
	if err != nil {
		return nil, &fyerrors.SecretsUnavailableError{Reason: "resolving key salt", Cause: err}
	}

	key := argon2.IDKey(raw, salt, argon2Time, argon2MemoryKB, argon2Threads, aesKeySize)
	zeroBytes(raw)

	return &Vault{dataDir: dataDir, aesKey: key}, nil
}

// keyringService/keyringUser address the OS keychain entry go-keyring
// reads and writes: a per-machine master key that survives a deleted
// data directory, tried before falling back to the file-backed key.
const (
	keyringService = "fyreflow-core"
	keyringUser    = "vault-master-key"
)

// resolveMasterKeyMaterial implements the key resolution order: (1) the
// DASHBOARD_SECRETS_KEY environment variable; (2) the OS keychain, via
// go-keyring, when one is available on the host; (3) a fixed file,
// generated with 0600 perms if absent. Accepted forms: raw 32 bytes,
// "base64:"-prefixed, "hex:"-prefixed, otherwise the value is passed
// through SHA-256 to derive 32 bytes.
func resolveMasterKeyMaterial(dataDir string) ([]byte, error) {
	if v := os.Getenv(envMasterKey); v != "" {
		return normalizeKeyMaterial(v), nil
	}

	if raw, err := resolveMasterKeyFromKeyring(); err == nil {
		return raw, nil
	}

	path := filepath.Join(dataDir, masterKeyFileName)
	if data, err := os.ReadFile(path); err == nil {
		decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fyerrors.Wrapf(decErr, "decoding master key file %s", path)
		}
		return decoded, nil
	} else if !os.IsNotExist(err) {
		return nil, fyerrors.Wrapf(err, "reading master key file %s", path)
	}

	raw := make([]byte, aesKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fyerrors.Wrap(err, "generating master key")
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fyerrors.Wrapf(err, "writing master key file %s", path)
	}
	return raw, nil
}

// resolveMasterKeyFromKeyring reads the master key from the OS
// keychain, generating and storing one on first use. It returns an
// error whenever no keychain backend is reachable (headless CI,
// containers without a secret service) so the caller falls back to
// the file-backed key without surfacing the probe failure.
func resolveMasterKeyFromKeyring() ([]byte, error) {
	encoded, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	}
	if err != keyring.ErrNotFound {
		return nil, err
	}

	raw := make([]byte, aesKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	encoded = base64.StdEncoding.EncodeToString(raw)
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, err
	}
	return raw, nil
}

// normalizeKeyMaterial accepts raw 32-byte material, a "base64:"-prefixed
// or "hex:"-prefixed value, or falls back to SHA-256 of the literal
// string to always produce exactly 32 bytes.
func normalizeKeyMaterial(v string) []byte {
	switch {
	case strings.HasPrefix(v, "base64:"):
		if b, err := base64.StdEncoding.DecodeString(v[len("base64:"):]); err == nil && len(b) == aesKeySize {
			return b
		}
	case strings.HasPrefix(v, "hex:"):
		if b, err := decodeHex(v[len("hex:"):]); err == nil && len(b) == aesKeySize {
			return b
		}
	case len(v) == aesKeySize:
		return []byte(v)
	}
	sum := sha256.Sum256([]byte(v))
	return sum[:]
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func loadOrCreateSalt(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, saltFileName)
	if data, err := os.ReadFile(path); err == nil {
		decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, decErr
		}
		return decoded, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(salt)), 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encrypt produces a versioned token: "v1:" + base64(nonce) + "." +
// base64(tag) + "." + base64(ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.aesKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return tokenVersion + ":" +
		base64.StdEncoding.EncodeToString(nonce) + "." +
		base64.StdEncoding.EncodeToString(tag) + "." +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// IsEncrypted reports whether token has the shape this vault produces:
// version prefix followed by three dot-separated base64 parts.
func (v *Vault) IsEncrypted(token string) bool {
	prefix := tokenVersion + ":"
	if !strings.HasPrefix(token, prefix) {
		return false
	}
	parts := strings.Split(token[len(prefix):], ".")
	return len(parts) == 3
}

// Decrypt reverses Encrypt. Per the vault's opacity contract, any
// failure (malformed token, wrong key, legacy plaintext) returns the
// original token unchanged and a nil error — callers never see a
// decrypt error, so partially-decryptable stores don't poison a run.
func (v *Vault) Decrypt(token string) (string, error) {
	if !v.IsEncrypted(token) {
		return token, nil
	}
	prefix := tokenVersion + ":"
	parts := strings.Split(token[len(prefix):], ".")
	nonce, err1 := base64.StdEncoding.DecodeString(parts[0])
	tag, err2 := base64.StdEncoding.DecodeString(parts[1])
	ciphertext, err3 := base64.StdEncoding.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return token, nil
	}

	block, err := aes.NewCipher(v.aesKey)
	if err != nil {
		return token, nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return token, nil
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return token, nil
	}
	return string(plaintext), nil
}

// secretsFilePath returns the per-pipeline encrypted-inputs file path.
func (v *Vault) secretsFilePath(pipelineID string) string {
	return filepath.Join(v.dataDir, secretsSubdir, pipelineID+".json")
}

// Read decrypts and returns all stored values for a pipeline. Missing
// files yield an empty map, not an error.
func (v *Vault) Read(pipelineID string) (map[string]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	raw, err := os.ReadFile(v.secretsFilePath(pipelineID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fyerrors.Wrapf(err, "reading secrets for pipeline %s", pipelineID)
	}

	var tokens map[string]string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fyerrors.Wrapf(err, "parsing secrets for pipeline %s", pipelineID)
	}

	out := make(map[string]string, len(tokens))
	for k, tok := range tokens {
		plain, _ := v.Decrypt(tok)
		out[k] = plain
	}
	return out, nil
}

// Save encrypts and persists values for a pipeline, merging with any
// existing keys not present in values.
func (v *Vault) Save(pipelineID string, values map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	existing, err := v.readTokensLocked(pipelineID)
	if err != nil {
		return err
	}
	for k, plain := range values {
		tok, err := v.Encrypt(plain)
		if err != nil {
			return fyerrors.Wrapf(err, "encrypting key %s for pipeline %s", k, pipelineID)
		}
		existing[k] = tok
	}
	return v.writeTokensLocked(pipelineID, existing)
}

// Forget removes the given keys from a pipeline's stored secrets.
func (v *Vault) Forget(pipelineID string, keys []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	existing, err := v.readTokensLocked(pipelineID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(existing, k)
	}
	return v.writeTokensLocked(pipelineID, existing)
}

// Purge deletes all stored secrets for a pipeline, used when the
// pipeline itself is deleted so no orphaned entries remain.
func (v *Vault) Purge(pipelineID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := os.Remove(v.secretsFilePath(pipelineID))
	if err != nil && !os.IsNotExist(err) {
		return fyerrors.Wrapf(err, "purging secrets for pipeline %s", pipelineID)
	}
	return nil
}

func (v *Vault) readTokensLocked(pipelineID string) (map[string]string, error) {
	raw, err := os.ReadFile(v.secretsFilePath(pipelineID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fyerrors.Wrapf(err, "reading secrets for pipeline %s", pipelineID)
	}
	var tokens map[string]string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fyerrors.Wrapf(err, "parsing secrets for pipeline %s", pipelineID)
	}
	return tokens, nil
}

func (v *Vault) writeTokensLocked(pipelineID string, tokens map[string]string) error {
	path := v.secretsFilePath(pipelineID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fyerrors.Wrapf(err, "creating secrets dir for pipeline %s", pipelineID)
	}

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fyerrors.Wrapf(err, "marshaling secrets for pipeline %s", pipelineID)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fyerrors.Wrapf(err, "writing temp secrets file for pipeline %s", pipelineID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fyerrors.Wrapf(err, "renaming temp secrets file for pipeline %s", pipelineID)
	}
	return nil
}

// ResolveForDispatch substitutes secret-typed run inputs with their
// decrypted plaintext for provider dispatch, leaving every other input
// untouched. The returned map must never be logged.
func (v *Vault) ResolveForDispatch(pipelineID string, inputs map[string]string) (map[string]string, error) {
	stored, err := v.Read(pipelineID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]string, len(inputs))
	for k, val := range inputs {
		if val == secrets.SecureSentinel {
			if plain, ok := stored[k]; ok {
				resolved[k] = plain
				continue
			}
		}
		resolved[k] = val
	}
	return resolved, nil
}
