package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"edgevision/internal/audit"
	"edgevision/internal/config"
	"edgevision/internal/evidence"
	"edgevision/internal/model"
	"edgevision/internal/recorder"
	"edgevision/internal/vault"
	"edgevision/internal/video"
)

const usage = `Usage: decrypt <command> [flags] [args]

Commands:
  list [DIR]                 list sealed evidence files
  verify FILE                decrypt in memory and check integrity
  decrypt -out DIR FILE      write every frame as JPEG plus a manifest
  export -out VIDEO FILE     write a video with detection boxes drawn

Key flags (all commands except list):
  -key PATH        symmetric master key
  -key-password PW derive the master key from PW and the salt next to -key
  -private PATH    RSA private key for hybrid files
  -password PW     password of the RSA private key
`

// errTampered marks a file that failed a cryptographic check.
var errTampered = errors.New("evidence failed verification")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	trail, err := audit.Open(filepath.Join(cfg.LogDirectory, "audit.log"), "decrypt")
	if err != nil {
		log.Printf("⚠️  Audit trail unavailable: %v", err)
		trail = audit.Discard()
	}
	defer trail.Close()

	t := &tool{cfg: cfg, out: os.Stdout, audit: trail, exporter: videoExporter{}}
	if err := t.run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if errors.Is(err, errTampered) {
			fmt.Fprintln(os.Stderr, "⚠️  This evidence file may have been tampered with!")
		}
		os.Exit(1)
	}
}

// Exporter renders decrypted records to a video file.
type Exporter interface {
	Export(path string, records []evidence.Record, fps float64, boxes bool) error
}

type tool struct {
	cfg      *config.Config
	out      io.Writer
	audit    *audit.Trail
	exporter Exporter
}

type keyFlags struct {
	key         *string
	keyPassword *string
	private     *string
	password    *string
}

func (t *tool) keyFlags(fset *flag.FlagSet) keyFlags {
	return keyFlags{
		key:         fset.String("key", t.cfg.EncryptionKeyPath, "symmetric master key"),
		keyPassword: fset.String("key-password", t.cfg.EncryptionPassword, "derive the master key from this password"),
		private:     fset.String("private", t.cfg.RSAPrivateKeyPath, "RSA private key"),
		password:    fset.String("password", "", "RSA private key password"),
	}
}

func (t *tool) run(command string, args []string) error {
	switch command {
	case "list":
		return t.list(args)
	case "verify":
		return t.verify(args)
	case "decrypt":
		return t.decrypt(args)
	case "export":
		return t.export(args)
	case "help", "-h", "--help":
		fmt.Fprint(t.out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n\n%s", command, usage)
}

// parseArgs parses flags that may appear before or after positional
// arguments.
func parseArgs(fset *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fset.Parse(args); err != nil {
			return nil, err
		}
		args = fset.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (t *tool) list(args []string) error {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	pos, err := parseArgs(fset, args)
	if err != nil {
		return err
	}
	dir := t.cfg.EvidenceRecordingsPath
	if len(pos) > 0 {
		dir = pos[0]
	}

	type entry struct {
		path    string
		size    int64
		modTime time.Time
		hybrid  bool
	}
	var files []entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != evidence.FileExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, entry{path: path, size: info.Size(), modTime: info.ModTime(), hybrid: isHybridFile(path)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path > files[j].path })

	if len(files) == 0 {
		fmt.Fprintf(t.out, "No evidence files in %s\n", dir)
		return nil
	}
	fmt.Fprintf(t.out, "📁 %d evidence file(s) in %s\n", len(files), dir)
	for _, f := range files {
		format := "symmetric"
		if f.hybrid {
			format = "hybrid"
		}
		fmt.Fprintf(t.out, "  %s  %8.2f MB  %s  %s\n",
			f.modTime.Format(time.DateTime), float64(f.size)/(1024*1024), format, filepath.Base(f.path))
	}
	return nil
}

func (t *tool) verify(args []string) error {
	fset := flag.NewFlagSet("verify", flag.ContinueOnError)
	keys := t.keyFlags(fset)
	pos, err := parseArgs(fset, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("verify needs exactly one FILE")
	}

	seg, err := t.open(pos[0], keys)
	if err != nil {
		return err
	}

	fmt.Fprintf(t.out, "✓ %s: integrity verified\n", filepath.Base(pos[0]))
	t.printInfo(seg)
	return nil
}

func (t *tool) decrypt(args []string) error {
	fset := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	keys := t.keyFlags(fset)
	outDir := fset.String("out", "", "output directory")
	pos, err := parseArgs(fset, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 || *outDir == "" {
		return fmt.Errorf("decrypt needs -out DIR and exactly one FILE")
	}

	seg, err := t.open(pos[0], keys)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := manifest{Info: seg.Info, Hash: seg.Hash, SealedAt: seg.SealedAt}
	for i, rec := range seg.Records {
		name := fmt.Sprintf("frame_%05d.jpg", i)
		if err := os.WriteFile(filepath.Join(*outDir, name), rec.JPEG, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		manifest.Frames = append(manifest.Frames, manifestFrame{
			File:       name,
			Timestamp:  rec.Timestamp,
			Detections: rec.Detections,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*outDir, "manifest.json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	fmt.Fprintf(t.out, "✓ Wrote %d frame(s) to %s\n", len(seg.Records), *outDir)
	t.printInfo(seg)
	return nil
}

type manifest struct {
	Info     evidence.SegmentInfo `json:"info"`
	Hash     string               `json:"hash"`
	SealedAt time.Time            `json:"sealed_at"`
	Frames   []manifestFrame      `json:"frames"`
}

type manifestFrame struct {
	File       string               `json:"file"`
	Timestamp  float64              `json:"timestamp"`
	Detections []model.DetectionBox `json:"detections"`
}

func (t *tool) export(args []string) error {
	fset := flag.NewFlagSet("export", flag.ContinueOnError)
	keys := t.keyFlags(fset)
	out := fset.String("out", "", "output video path (.mp4 or .avi)")
	fps := fset.Float64("fps", float64(t.cfg.TargetFPS), "playback frame rate")
	boxes := fset.Bool("boxes", true, "draw detection boxes")
	pos, err := parseArgs(fset, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 || *out == "" {
		return fmt.Errorf("export needs -out VIDEO and exactly one FILE")
	}

	seg, err := t.open(pos[0], keys)
	if err != nil {
		return err
	}
	if len(seg.Records) == 0 {
		return fmt.Errorf("%s holds no frames", pos[0])
	}
	if err := t.exporter.Export(*out, seg.Records, *fps, *boxes); err != nil {
		return err
	}

	fmt.Fprintf(t.out, "✓ Exported %d frame(s) to %s\n", len(seg.Records), *out)
	return nil
}

// open decrypts path with whatever keys are available and records the
// outcome in the audit trail.
func (t *tool) open(path string, keys keyFlags) (*evidence.Segment, error) {
	sym, hyb, err := loadVaults(keys)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"file": filepath.Base(path)}
	seg, err := evidence.OpenFile(path, sym, hyb)
	if err != nil {
		if isCryptoFailure(err) {
			meta["error"] = err.Error()
			t.audit.Error(audit.EventIntegrityFailure, "evidence failed verification", meta)
			return nil, fmt.Errorf("%s: %v: %w", filepath.Base(path), err, errTampered)
		}
		return nil, err
	}

	meta["evidence_id"] = seg.Info.EvidenceID
	meta["hash"] = seg.Hash
	t.audit.Info(audit.EventEvidenceOpened, "evidence opened", meta)
	return seg, nil
}

func (t *tool) printInfo(seg *evidence.Segment) {
	fmt.Fprintf(t.out, "  Evidence ID: %s\n", seg.Info.EvidenceID)
	fmt.Fprintf(t.out, "  Camera: %s\n", seg.Info.Camera)
	fmt.Fprintf(t.out, "  Frames: %d\n", len(seg.Records))
	fmt.Fprintf(t.out, "  Detections: %d\n", seg.Info.TotalDetections)
	fmt.Fprintf(t.out, "  Start: %s\n", unixTime(seg.Info.StartTime).Format(time.DateTime))
	fmt.Fprintf(t.out, "  End: %s\n", unixTime(seg.Info.EndTime).Format(time.DateTime))
	fmt.Fprintf(t.out, "  Sealed: %s\n", seg.SealedAt.Format(time.DateTime))
	fmt.Fprintf(t.out, "  SHA-256: %s\n", seg.Hash)
}

// loadVaults loads whichever keys exist. A missing key is not an error
// here; OpenFile reports it if the file needs that key.
func loadVaults(keys keyFlags) (*vault.SecureVault, *vault.HybridVault, error) {
	keyPath, privatePath := *keys.key, *keys.private

	key, err := symmetricKey(keyPath, *keys.keyPassword)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}
	var sym *vault.SecureVault
	if key != nil {
		if sym, err = vault.NewSecureVaultWithKey(key); err != nil {
			return nil, nil, err
		}
	}

	var hyb *vault.HybridVault
	if _, err := os.Stat(privatePath); err == nil {
		if hyb, err = vault.LoadHybridDecryptor(privatePath, []byte(*keys.password)); err != nil {
			return nil, nil, err
		}
	}

	if sym == nil && hyb == nil {
		return nil, nil, fmt.Errorf("no key found at %s or %s", keyPath, privatePath)
	}
	return sym, hyb, nil
}

// symmetricKey reads the key file, or derives the key when a password is
// given. The salt is never created here.
func symmetricKey(keyPath, password string) ([]byte, error) {
	if password == "" {
		return vault.LoadKey(keyPath)
	}
	salt, err := vault.LoadSalt(vault.SaltPath(keyPath))
	if err != nil {
		return nil, err
	}
	return vault.DeriveKey(password, salt)
}

func isCryptoFailure(err error) bool {
	return errors.Is(err, vault.ErrIntegrity) ||
		errors.Is(err, vault.ErrDecryption) ||
		errors.Is(err, vault.ErrKeyMismatch) ||
		errors.Is(err, vault.ErrFormat)
}

func isHybridFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return vault.IsHybrid(header)
}

func unixTime(seconds float64) time.Time {
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*1e9))
}

// videoExporter decodes records with OpenCV and writes them through the
// recorder's writer factory.
type videoExporter struct{}

func (videoExporter) Export(path string, records []evidence.Record, fps float64, boxes bool) error {
	codec := video.JPEGCodec{}
	first, err := codec.DecodeJPEG(records[0].JPEG, records[0].Time())
	if err != nil {
		return err
	}

	w, err := openExportWriter(path, fps, first.Width, first.Height)
	if err != nil {
		return err
	}
	defer w.Close()

	for i, rec := range records {
		frame, err := codec.DecodeJPEG(rec.JPEG, rec.Time())
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if boxes && len(rec.Detections) > 0 {
			if frame, err = video.Annotate(frame, rec.Detections); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
		}
		if err := w.Write(frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

// openExportWriter tries every known codec for the extension of path.
func openExportWriter(path string, fps float64, width, height int) (recorder.FrameWriter, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, codec := range recorder.DefaultCodecs {
		if codec.Ext != ext {
			continue
		}
		w, err := video.WriterFactory{}.Open(path, codec, fps, width, height)
		if err == nil && w.IsOpened() {
			return w, nil
		}
		if w != nil {
			w.Close()
		}
	}
	return nil, fmt.Errorf("no codec can write %s: %w", path, recorder.ErrCodec)
}
