package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"edgevision/internal/audit"
	"edgevision/internal/config"
	"edgevision/internal/vault"
)

const usage = `Usage: keytool <command> [flags]

Commands:
  generate      create the symmetric master key (random, or -password derived)
  generate-rsa  create the RSA key pair for hybrid evidence encryption
  info          show key status and fingerprints
  backup        copy the master key and verify the copy
  restore       copy a backed up master key into place
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	trail, err := audit.Open(filepath.Join(cfg.LogDirectory, "audit.log"), "keytool")
	if err != nil {
		log.Printf("⚠️  Audit trail unavailable: %v", err)
		trail = audit.Discard()
	}
	defer trail.Close()

	t := &tool{cfg: cfg, out: os.Stdout, audit: trail, now: time.Now}
	if err := t.run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

type tool struct {
	cfg   *config.Config
	out   io.Writer
	audit *audit.Trail
	now   func() time.Time
}

func (t *tool) run(command string, args []string) error {
	switch command {
	case "generate":
		return t.generate(args)
	case "generate-rsa":
		return t.generateRSA(args)
	case "info":
		return t.info(args)
	case "backup":
		return t.backup(args)
	case "restore":
		return t.restore(args)
	case "help", "-h", "--help":
		fmt.Fprint(t.out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n\n%s", command, usage)
}

func (t *tool) generate(args []string) error {
	fset := flag.NewFlagSet("generate", flag.ContinueOnError)
	keyPath := fset.String("key", t.cfg.EncryptionKeyPath, "master key path")
	force := fset.Bool("force", false, "overwrite an existing key (existing evidence becomes unreadable)")
	password := fset.String("password", "", "derive the key from this password and keep the salt next to it")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if exists(*keyPath) && !*force {
		return fmt.Errorf("key already exists: %s (use -force to overwrite)", *keyPath)
	}

	var (
		key []byte
		err error
	)
	saltPath := vault.SaltPath(*keyPath)
	if *password != "" {
		key, err = t.deriveKey(*password, saltPath, *force)
	} else {
		key, err = vault.GenerateKey()
	}
	if err != nil {
		return err
	}
	if err := vault.SaveKey(*keyPath, key); err != nil {
		return err
	}

	meta := map[string]string{"path": *keyPath}
	if *password != "" {
		meta["salt"] = saltPath
	}
	t.audit.Info(audit.EventKeyGenerated, "master key generated", meta)

	fmt.Fprintf(t.out, "✓ Key generated: %s\n", *keyPath)
	fmt.Fprintf(t.out, "  Size: %d bytes (%d-bit)\n", len(key), len(key)*8)
	fmt.Fprintf(t.out, "  Hash: %s...\n", shortHash(key))
	if *password != "" {
		fmt.Fprintf(t.out, "  Derived: PBKDF2-HMAC-SHA256, %d iterations\n", vault.PBKDF2Iterations)
		fmt.Fprintf(t.out, "  Salt: %s\n", saltPath)
	}
	fmt.Fprintln(t.out, "⚠️  Back this key up now. Without it sealed evidence cannot be recovered.")
	return nil
}

// deriveKey stretches password with the salt at saltPath. An existing salt is
// reused so the same password yields the same key again, unless fresh is
// set.
func (t *tool) deriveKey(password, saltPath string, fresh bool) ([]byte, error) {
	if fresh {
		if err := os.Remove(saltPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to replace salt: %w", err)
		}
	}
	salt, _, err := vault.LoadOrCreateSalt(saltPath)
	if err != nil {
		return nil, err
	}
	return vault.DeriveKey(password, salt)
}

func (t *tool) generateRSA(args []string) error {
	fset := flag.NewFlagSet("generate-rsa", flag.ContinueOnError)
	publicPath := fset.String("public", t.cfg.RSAPublicKeyPath, "public key path")
	privatePath := fset.String("private", t.cfg.RSAPrivateKeyPath, "private key path")
	password := fset.String("password", "", "encrypt the private key with this password")
	force := fset.Bool("force", false, "overwrite existing keys")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if (exists(*publicPath) || exists(*privatePath)) && !*force {
		return fmt.Errorf("RSA keys already exist (use -force to overwrite)")
	}

	key, err := vault.GenerateRSAKeyPair(2048)
	if err != nil {
		return err
	}
	if err := vault.WritePrivateKeyPEM(*privatePath, key, []byte(*password)); err != nil {
		return err
	}
	if err := vault.WritePublicKeyPEM(*publicPath, &key.PublicKey); err != nil {
		return err
	}

	fp, err := vault.Fingerprint(&key.PublicKey)
	if err != nil {
		return err
	}
	t.audit.Info(audit.EventKeyGenerated, "RSA key pair generated", map[string]string{
		"public":      *publicPath,
		"fingerprint": fp,
	})

	fmt.Fprintf(t.out, "✓ RSA key pair generated (2048-bit)\n")
	fmt.Fprintf(t.out, "  Public:  %s (deploy on the edge device)\n", *publicPath)
	fmt.Fprintf(t.out, "  Private: %s (keep offline)\n", *privatePath)
	fmt.Fprintf(t.out, "  Fingerprint: %s\n", fp)
	if *password != "" {
		fmt.Fprintln(t.out, "  Private key is password protected")
	}
	return nil
}

func (t *tool) info(args []string) error {
	fset := flag.NewFlagSet("info", flag.ContinueOnError)
	keyPath := fset.String("key", t.cfg.EncryptionKeyPath, "master key path")
	publicPath := fset.String("public", t.cfg.RSAPublicKeyPath, "public key path")
	privatePath := fset.String("private", t.cfg.RSAPrivateKeyPath, "private key path")
	if err := fset.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(t.out, "Symmetric master key")
	key, err := vault.LoadKey(*keyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(t.out, "  Status: ❌ NOT FOUND (%s)\n", *keyPath)
	case err != nil:
		fmt.Fprintf(t.out, "  Status: ❌ INVALID (%v)\n", err)
	default:
		st, _ := os.Stat(*keyPath)
		fmt.Fprintf(t.out, "  Status: ✓ ACTIVE\n")
		fmt.Fprintf(t.out, "  Path: %s\n", *keyPath)
		fmt.Fprintf(t.out, "  Size: %d bytes (%d-bit)\n", len(key), len(key)*8)
		fmt.Fprintf(t.out, "  SHA-256: %s...\n", shortHash(key))
		if st != nil {
			fmt.Fprintf(t.out, "  Modified: %s\n", st.ModTime().Format(time.DateTime))
		}
	}
	if saltPath := vault.SaltPath(*keyPath); exists(saltPath) {
		fmt.Fprintf(t.out, "  Salt: %s (password derived)\n", saltPath)
	}

	fmt.Fprintln(t.out, "RSA key pair")
	pub, err := vault.ReadPublicKeyPEM(*publicPath)
	if err != nil {
		fmt.Fprintf(t.out, "  Public: ❌ %v\n", err)
	} else {
		fp, _ := vault.Fingerprint(pub)
		fmt.Fprintf(t.out, "  Public: ✓ %s (%d-bit)\n", *publicPath, pub.N.BitLen())
		fmt.Fprintf(t.out, "  Fingerprint: %s\n", fp)
	}
	if exists(*privatePath) {
		fmt.Fprintf(t.out, "  Private: ⚠️  present on this host (%s)\n", *privatePath)
	} else {
		fmt.Fprintln(t.out, "  Private: not on this host")
	}
	return nil
}

func (t *tool) backup(args []string) error {
	fset := flag.NewFlagSet("backup", flag.ContinueOnError)
	keyPath := fset.String("key", t.cfg.EncryptionKeyPath, "master key path")
	out := fset.String("out", "", "backup file (default keys/backups/master_<time>.key next to the key)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	key, err := vault.LoadKey(*keyPath)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	dst := *out
	if dst == "" {
		dst = filepath.Join(filepath.Dir(*keyPath), "backups", fmt.Sprintf("master_%s.key", t.now().Format("20060102_150405")))
	}
	if err := copyVerified(key, dst); err != nil {
		return err
	}

	fmt.Fprintf(t.out, "✓ Key backed up to: %s\n", dst)
	fmt.Fprintf(t.out, "  Hash verified: %s...\n", shortHash(key))
	return nil
}

func (t *tool) restore(args []string) error {
	fset := flag.NewFlagSet("restore", flag.ContinueOnError)
	keyPath := fset.String("key", t.cfg.EncryptionKeyPath, "master key path")
	from := fset.String("from", "", "backup file to restore")
	force := fset.Bool("force", false, "overwrite the current key")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *from == "" {
		return fmt.Errorf("restore needs -from")
	}
	if exists(*keyPath) && !*force {
		return fmt.Errorf("key already exists: %s (use -force to overwrite)", *keyPath)
	}

	key, err := vault.LoadKey(*from)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := copyVerified(key, *keyPath); err != nil {
		return err
	}

	fmt.Fprintf(t.out, "✓ Key restored from: %s\n", *from)
	fmt.Fprintf(t.out, "  Hash verified: %s...\n", shortHash(key))
	return nil
}

// copyVerified writes key to dst and reads it back.
func copyVerified(key []byte, dst string) error {
	if err := vault.SaveKey(dst, key); err != nil {
		return err
	}
	written, err := vault.LoadKey(dst)
	if err != nil {
		return fmt.Errorf("failed to verify copy: %w", err)
	}
	if shortHash(written) != shortHash(key) {
		return fmt.Errorf("copy verification failed for %s", dst)
	}
	return nil
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
