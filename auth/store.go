// Package auth validates CONNECT credentials against a password file:
// one "username:salt:hash" record per line, hash = SHA-512(salt||password),
// base64-encoded. The store swaps atomically on reload so a SIGUSR1-style
// config reload never blocks an in-flight CONNECT.
package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

type record struct {
	salt []byte
	hash []byte
}

// passwordStore is an immutable snapshot of a password file. A new
// snapshot replaces the old one wholesale on reload; readers never see a
// partially-loaded file.
type passwordStore struct {
	users map[string]record
}

func newEmptyPasswordStore() *passwordStore {
	return &passwordStore{users: make(map[string]record)}
}

func loadPasswordStore(r io.Reader) (*passwordStore, error) {
	store := newEmptyPasswordStore()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth: malformed password record at line %d", line)
		}
		username, saltB64, hashB64 := parts[0], parts[1], parts[2]
		salt, err := base64.StdEncoding.DecodeString(saltB64)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid salt at line %d: %w", line, err)
		}
		hash, err := base64.StdEncoding.DecodeString(hashB64)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid hash at line %d: %w", line, err)
		}
		store.users[username] = record{salt: salt, hash: hash}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return store, nil
}

func loadPasswordFile(path string) (*passwordStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadPasswordStore(f)
}

func (s *passwordStore) verify(username string, password []byte) bool {
	rec, ok := s.users[username]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(hashPassword(rec.salt, password), rec.hash) == 1
}

func hashPassword(salt, password []byte) []byte {
	sum := sha512.Sum512(append(append([]byte{}, salt...), password...))
	return sum[:]
}

// NewRecordLine produces a "username:salt:hash" line for a password file,
// generating a fresh random salt. Exported for password-file management
// tooling that lives outside this package.
func NewRecordLine(username, password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := hashPassword(salt, []byte(password))
	return fmt.Sprintf("%s:%s:%s", username,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash)), nil
}
