// ABOUTME: Optional end-to-end encryption for the familiar's Matrix session
// ABOUTME: Keeps the olm store in a per-account SQLite file under the data dir

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoSession owns the crypto helper attached to a client.
type cryptoSession struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// enableCrypto attaches a crypto helper to cli. The crypto store lives at
// <dataDir>/familiar-crypto-<account>.db and is recreated when the stored
// device id no longer matches the access token's device. A failed recovery
// key verification leaves encryption enabled without cross-signing.
func enableCrypto(ctx context.Context, cli *mautrix.Client, dataDir, recoveryKey string, logger *slog.Logger) (*cryptoSession, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	account := accountSlug(cli.UserID.String())
	dbPath := filepath.Join(dataDir, "familiar-crypto-"+account+".db")
	logger = logger.With("crypto_db", dbPath)

	stale, err := staleDevice(dbPath, cli.DeviceID.String())
	if err != nil {
		logger.Debug("could not read stored device id", "error", err)
	} else if stale {
		logger.Warn("stored device id differs from session, discarding crypto store")
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing crypto store: %w", err)
			}
		}
	}

	pickleKey := sha256.Sum256([]byte("coven-familiar:" + cli.UserID.String()))
	helper, err := cryptohelper.NewCryptoHelper(cli, pickleKey[:], dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	cli.Crypto = helper

	session := &cryptoSession{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return session, nil
	}

	if err := session.verify(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed", "error", err)
	} else {
		logger.Info("encryption enabled with cross-signing")
	}
	return session, nil
}

func (s *cryptoSession) verify(ctx context.Context, recoveryKey string) error {
	machine := s.helper.Machine()
	if machine == nil {
		return errors.New("olm machine not initialized")
	}
	return machine.VerifyWithRecoveryKey(ctx, recoveryKey)
}

func (s *cryptoSession) Close() error {
	return s.helper.Close()
}

// accountSlug turns "@familiar:example.org" into "familiar_example.org".
func accountSlug(userID string) string {
	userID = strings.TrimPrefix(userID, "@")
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r == ':':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// staleDevice reports whether an existing crypto store belongs to a
// different device than deviceID.
func staleDevice(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow(`SELECT device_id FROM crypto_account LIMIT 1`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
