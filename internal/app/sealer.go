package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"edgevision/internal/audit"
	"edgevision/internal/config"
	"edgevision/internal/logger"
	"edgevision/internal/vault"
)

// selectSealer picks the evidence vault for cfg.EvidenceEncryption and
// reports the mode it settled on. In auto mode the hybrid vault is used when
// a public key is present, so the edge device never holds a decryption key.
func selectSealer(cfg *config.Config, log *logger.Logger, trail *audit.Trail) (vault.Sealer, string, error) {
	switch cfg.EvidenceEncryption {
	case config.EncryptionHybrid:
		v, err := vault.LoadHybridEncryptor(cfg.RSAPublicKeyPath)
		if err != nil {
			return nil, "", fmt.Errorf("hybrid encryption requires %s: %w", cfg.RSAPublicKeyPath, err)
		}
		logFingerprint(v, log)
		return v, config.EncryptionHybrid, nil

	case config.EncryptionSymmetric:
		v, err := symmetricVault(cfg, log, trail)
		if err != nil {
			return nil, "", err
		}
		return v, config.EncryptionSymmetric, nil

	case config.EncryptionAuto, "":
		if _, err := os.Stat(cfg.RSAPublicKeyPath); err == nil {
			v, err := vault.LoadHybridEncryptor(cfg.RSAPublicKeyPath)
			if err != nil {
				return nil, "", err
			}
			logFingerprint(v, log)
			return v, config.EncryptionHybrid, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to check public key: %w", err)
		}

		log.Warning("No RSA public key at %s, falling back to symmetric evidence encryption", cfg.RSAPublicKeyPath)
		v, err := symmetricVault(cfg, log, trail)
		if err != nil {
			return nil, "", err
		}
		return v, config.EncryptionSymmetric, nil
	}
	return nil, "", fmt.Errorf("unknown evidence encryption %q: %w", cfg.EvidenceEncryption, config.ErrConfig)
}

// symmetricVault derives the master key from cfg.EncryptionPassword when one
// is set, otherwise it loads (or creates) the key file.
func symmetricVault(cfg *config.Config, log *logger.Logger, trail *audit.Trail) (*vault.SecureVault, error) {
	keyPath := cfg.EncryptionKeyPath
	if cfg.EncryptionPassword != "" {
		key, created, err := vault.KeyFromPassword(cfg.EncryptionPassword, keyPath)
		if err != nil {
			return nil, err
		}
		if created {
			saltPath := vault.SaltPath(keyPath)
			log.Warning("🔑 Generated new key salt at %s, back it up with the password", saltPath)
			trail.Info(audit.EventKeyGenerated, "password key salt generated", map[string]string{"path": saltPath})
		}
		log.Info("🔑 Master key derived from password")
		return vault.NewSecureVaultWithKey(key)
	}

	key, created, err := vault.LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	if created {
		log.Warning("🔑 Generated new master key at %s, back it up", keyPath)
		trail.Info(audit.EventKeyGenerated, "master key generated", map[string]string{"path": keyPath})
	}
	return vault.NewSecureVaultWithKey(key)
}

func logFingerprint(v *vault.HybridVault, log *logger.Logger) {
	fp, err := vault.Fingerprint(v.PublicKey())
	if err != nil {
		return
	}
	log.Info("🔒 Evidence sealed for RSA key %s", fp)
}
