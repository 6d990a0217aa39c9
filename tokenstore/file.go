package tokenstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/petal-labs/carelink/core"
)

// File format constants
const (
	// magicHeader identifies token files
	magicHeader = "CLNK"
	// formatV1 is the current file format version
	formatV1 = byte(0x01)
	// saltLength is the length of the Argon2id salt
	saltLength = 16
	// nonceLength is the AES-GCM nonce length
	nonceLength = 12
)

// kdfParams are the Argon2id parameters.
type kdfParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// OWASP recommended
var defaultKDF = kdfParams{time: 3, memory: 64 * 1024, threads: 4, keyLen: 32}

// ErrBadFormat is returned for a token file that is not in a known format.
var ErrBadFormat = errors.New("tokenstore: unrecognised token file format")

// ErrNoMasterKey is returned by NewFile for an empty master key.
var ErrNoMasterKey = errors.New("tokenstore: master key is required")

// File stores both tokens in one file encrypted with AES-256-GCM. The key is
// derived from a master key with Argon2id and a per-write random salt.
//
// Format: [magic (4)] [version (1)] [salt (16)] [nonce (12)] [ciphertext]
type File struct {
	path      string
	masterKey []byte
	kdf       kdfParams
	mu        sync.RWMutex
}

// NewFile creates a store at path. The file is created on first write.
func NewFile(path string, masterKey []byte) (*File, error) {
	if len(masterKey) == 0 {
		return nil, ErrNoMasterKey
	}
	return &File{
		path:      path,
		masterKey: append([]byte(nil), masterKey...),
		kdf:       defaultKDF,
	}, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) AccessToken(context.Context) (string, error) {
	doc, err := f.read()
	return doc.AccessToken, err
}

func (f *File) RefreshToken(context.Context) (string, error) {
	doc, err := f.read()
	return doc.RefreshToken, err
}

func (f *File) SaveAccessToken(_ context.Context, token string) error {
	return f.update(func(d *document) { d.AccessToken = token })
}

func (f *File) SaveRefreshToken(_ context.Context, token string) error {
	return f.update(func(d *document) { d.RefreshToken = token })
}

func (f *File) ClearAccessToken(context.Context) error {
	return f.update(func(d *document) { d.AccessToken = "" })
}

func (f *File) ClearRefreshToken(context.Context) error {
	return f.update(func(d *document) { d.RefreshToken = "" })
}

func (f *File) read() (document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.load()
}

func (f *File) update(fn func(*document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	fn(&doc)
	if doc == (document{}) {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return f.save(doc)
}

// load reads and decrypts the token file. A missing file is an empty document.
func (f *File) load() (document, error) {
	var doc document

	ciphertext, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	if len(ciphertext) == 0 {
		return doc, nil
	}

	plaintext, err := f.decrypt(ciphertext)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return doc, fmt.Errorf("tokenstore: decode %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}

	plaintext, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ciphertext, err := f.encrypt(plaintext)
	if err != nil {
		return err
	}

	// Write with restrictive permissions (user only)
	return os.WriteFile(f.path, ciphertext, 0600)
}

func (f *File) deriveKey(salt []byte) []byte {
	return argon2.IDKey(f.masterKey, salt, f.kdf.time, f.kdf.memory, f.kdf.threads, f.kdf.keyLen)
}

func (f *File) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := newGCM(f.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	header := make([]byte, 0, len(magicHeader)+1+saltLength+nonceLength)
	header = append(header, magicHeader...)
	header = append(header, formatV1)
	header = append(header, salt...)
	header = append(header, nonce...)

	// The header is authenticated as additional data.
	ciphertext := gcm.Seal(nil, nonce, plaintext, header)
	return append(header, ciphertext...), nil
}

func (f *File) decrypt(data []byte) ([]byte, error) {
	headerLen := len(magicHeader) + 1 + saltLength + nonceLength
	if len(data) < headerLen ||
		string(data[:len(magicHeader)]) != magicHeader ||
		data[len(magicHeader)] != formatV1 {
		return nil, ErrBadFormat
	}

	offset := len(magicHeader) + 1
	salt := data[offset : offset+saltLength]
	offset += saltLength
	nonce := data[offset : offset+nonceLength]
	offset += nonceLength

	gcm, err := newGCM(f.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[offset:], data[:offset])
	if err != nil {
		return nil, fmt.Errorf("tokenstore: decrypt %s: %w", f.path, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var _ core.TokenStore = (*File)(nil)
