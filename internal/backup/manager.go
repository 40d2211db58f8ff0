package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/security"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const backupSuffix = ".db.enc.gz"

// Snapshotter writes a consistent copy of the database to dst.
type Snapshotter interface {
	Snapshot(ctx context.Context, dst string) error
}

// SQLiteSnapshotter copies a SQLCipher database with VACUUM INTO. The copy
// keeps the source database's encryption.
type SQLiteSnapshotter struct {
	DB *sql.DB
}

func (s SQLiteSnapshotter) Snapshot(ctx context.Context, dst string) error {
	quoted := strings.ReplaceAll(dst, "'", "''")
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// Unsupported is used for drivers without a file snapshot.
type Unsupported struct{}

func (Unsupported) Snapshot(context.Context, string) error {
	return errors.ErrBackupUnsupported
}

type Manager struct {
	source        Snapshotter
	enc           *security.FieldEncryptor
	backupDir     string
	retentionDays int
	log           logging.Logger
	now           func() time.Time
}

// NewManager creates a new backup manager. encryptionKey must be 32 bytes.
func NewManager(source Snapshotter, backupDir string, encryptionKey []byte, retentionDays int, log logging.Logger) (*Manager, error) {
	enc, err := security.NewFieldEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	// Ensure backup directory exists with secure permissions
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Manager{
		source:        source,
		enc:           enc,
		backupDir:     backupDir,
		retentionDays: retentionDays,
		log:           log,
		now:           time.Now,
	}, nil
}

// CreateBackup snapshots the database, then encrypts, compresses and
// checksums the copy. It returns the path of the encrypted file.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	timestamp := m.now().UTC().Format("20060102_150405")
	snapshotPath := filepath.Join(m.backupDir, fmt.Sprintf("backup_%s.db", timestamp))

	if err := m.source.Snapshot(ctx, snapshotPath); err != nil {
		return "", err
	}
	defer os.Remove(snapshotPath)

	encryptedPath := strings.TrimSuffix(snapshotPath, ".db") + backupSuffix
	if err := m.encryptAndCompressFile(snapshotPath, encryptedPath); err != nil {
		os.Remove(encryptedPath)
		return "", fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}

	if err := m.createChecksumFile(encryptedPath); err != nil {
		return "", fmt.Errorf("failed to create checksum: %w", err)
	}

	m.log.Info(ctx, "backup created", "path", encryptedPath)
	return encryptedPath, nil
}

// encryptAndCompressFile encrypts and compresses a file
func (m *Manager) encryptAndCompressFile(srcPath, dstPath string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	ciphertext, err := m.enc.EncryptBytes(plaintext)
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	if _, err := gzWriter.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish compressed data: %w", err)
	}

	return dstFile.Sync()
}

// createChecksumFile creates SHA-256 checksum file
func (m *Manager) createChecksumFile(filePath string) error {
	sum, err := fileChecksum(filePath)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath+".sha256", []byte(sum), 0600)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyBackup checks the stored checksum and that the file decrypts with
// the current key.
func (m *Manager) VerifyBackup(backupPath string) error {
	_, err := m.open(backupPath)
	return err
}

// Extract decrypts a backup into dstPath.
func (m *Manager) Extract(backupPath, dstPath string) error {
	plaintext, err := m.open(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dstPath, plaintext, 0600)
}

func (m *Manager) open(backupPath string) ([]byte, error) {
	storedChecksum, err := os.ReadFile(backupPath + ".sha256")
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum file: %w", err)
	}

	currentChecksum, err := fileChecksum(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	if subtle.ConstantTimeCompare(bytes.TrimSpace(storedChecksum), []byte(currentChecksum)) != 1 {
		return nil, errors.ErrChecksumMismatch
	}

	f, err := os.Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}
	defer gz.Close()

	ciphertext, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}

	return m.enc.DecryptBytes(ciphertext)
}

// CleanOldBackups removes backups older than the retention period and
// returns how many files were deleted.
func (m *Manager) CleanOldBackups(ctx context.Context) (int, error) {
	cutoffTime := m.now().AddDate(0, 0, -m.retentionDays)

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	deletedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffTime) {
			filePath := filepath.Join(m.backupDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				m.log.Warn(ctx, "failed to delete old backup", "path", filePath, "error", err)
				continue
			}
			deletedCount++
		}
	}

	if deletedCount > 0 {
		m.log.Info(ctx, "cleaned old backups", "count", deletedCount)
	}

	return deletedCount, nil
}

func isBackupFile(name string) bool {
	return strings.HasSuffix(name, backupSuffix) || strings.HasSuffix(name, backupSuffix+".sha256")
}

// StartAutomatedBackups starts automated backup scheduler
func (m *Manager) StartAutomatedBackups(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info(ctx, "automated backups started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.log.Info(context.Background(), "stopping automated backups")
			return
		case <-ticker.C:
			if _, err := m.CreateBackup(ctx); err != nil {
				m.log.Error(ctx, "scheduled backup failed", "error", err)
			}
			if _, err := m.CleanOldBackups(ctx); err != nil {
				m.log.Error(ctx, "backup cleanup failed", "error", err)
			}
		}
	}
}
