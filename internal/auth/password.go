package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidPassword means the supplied password does not match the stored hash.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrWeakPassword means a new password failed validation.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// PasswordStore verifies and rotates the single admin password. The bcrypt
// hash lives in a file so password changes survive restarts without a
// database. When the file does not exist yet, the first verification
// bootstraps it from the configured bootstrap password.
type PasswordStore struct {
	hashFile  string
	bootstrap string
	logger    *zap.Logger

	mu sync.Mutex
}

// NewPasswordStore creates a password store backed by hashFile. bootstrap is
// the initial plaintext password used when no hash file exists yet.
func NewPasswordStore(hashFile, bootstrap string, logger *zap.Logger) *PasswordStore {
	return &PasswordStore{
		hashFile:  hashFile,
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// Verify compares password against the stored hash. Returns
// ErrInvalidPassword on mismatch.
func (p *PasswordStore) Verify(password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash, err := p.loadOrBootstrap()
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// Change verifies the current password and persists a new hash. The new
// password must be at least 8 characters.
func (p *PasswordStore) Change(current, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash, err := p.loadOrBootstrap()
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(current)); err != nil {
		return ErrInvalidPassword
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := p.writeHash(newHash); err != nil {
		return err
	}
	p.logger.Info("Admin password changed")
	return nil
}

// loadOrBootstrap reads the stored hash, creating it from the bootstrap
// password on first use. Caller holds p.mu.
func (p *PasswordStore) loadOrBootstrap() ([]byte, error) {
	raw, err := os.ReadFile(p.hashFile)
	if err == nil {
		return []byte(strings.TrimSpace(string(raw))), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read password hash: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.bootstrap), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash bootstrap password: %w", err)
	}
	if err := p.writeHash(hash); err != nil {
		return nil, err
	}
	p.logger.Info("Bootstrapped admin password hash", zap.String("file", p.hashFile))
	return hash, nil
}

func (p *PasswordStore) writeHash(hash []byte) error {
	if dir := filepath.Dir(p.hashFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := os.WriteFile(p.hashFile, hash, 0o600); err != nil {
		return fmt.Errorf("write password hash: %w", err)
	}
	return nil
}
