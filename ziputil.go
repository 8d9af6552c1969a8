package epubflat

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultMaxEntryBytes is the default maximum decompressed size for a single
// ZIP entry. This guards against zip bomb attacks.
const DefaultMaxEntryBytes int64 = 256 * 1024 * 1024

type extractConfig struct {
	maxEntryBytes int64
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

// WithMaxEntryBytes overrides DefaultMaxEntryBytes. Non-positive values are ignored.
func WithMaxEntryBytes(n int64) ExtractOption {
	return func(c *extractConfig) {
		if n > 0 {
			c.maxEntryBytes = n
		}
	}
}

// ArchiveName returns the base name of archivePath without its extension
// ("books/Moby Dick.epub" → "Moby Dick").
func ArchiveName(archivePath string) string {
	base := filepath.Base(archivePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Extract unpacks the archive into outputRoot/<archive-name>/, preserving the
// internal directory structure, and returns that directory. Existing files
// are overwritten.
func Extract(archivePath, outputRoot string, opts ...ExtractOption) (string, error) {
	cfg := extractConfig{maxEntryBytes: DefaultMaxEntryBytes}
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := filepath.Abs(filepath.Join(outputRoot, ArchiveName(archivePath)))
	if err != nil {
		return "", withArchive(newError(KindIO, outputRoot, err), archivePath)
	}
	if _, err := extractArchive(archivePath, root, cfg.maxEntryBytes); err != nil {
		return "", withArchive(err, archivePath)
	}
	return root, nil
}

// extractArchive writes every entry of the archive at archivePath below dest.
// It reports whether the archive carries obfuscated fonts, which are copied
// as-is.
func extractArchive(archivePath, dest string, limit int64) (fontObfuscation bool, err error) {
	zrc, err := zip.OpenReader(archivePath)
	if err != nil {
		return false, newError(KindArchiveRead, "", fmt.Errorf("open %s: %w", archivePath, err))
	}
	defer zrc.Close()

	fontObfuscation, err = checkDRM(&zrc.Reader)
	if err != nil {
		return false, newError(KindArchiveRead, "", err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return false, newError(KindIO, dest, err)
	}

	for _, f := range zrc.File {
		if !isSafePath(f.Name) {
			return false, errorf(KindArchiveRead, f.Name, "unsafe zip entry path: %s", f.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(path.Clean(f.Name)))
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return false, newError(KindIO, f.Name, err)
			}
			continue
		}
		if err := writeZipEntry(f, target, limit); err != nil {
			return false, err
		}
	}
	return fontObfuscation, nil
}

// writeZipEntry copies a single ZIP entry to target, enforcing limit.
func writeZipEntry(f *zip.File, target string, limit int64) error {
	if f.UncompressedSize64 > uint64(limit) {
		return errorf(KindArchiveRead, f.Name, "zip entry too large: %d bytes (max %d)", f.UncompressedSize64, limit)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return newError(KindIO, f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return newError(KindArchiveRead, f.Name, fmt.Errorf("open zip entry: %w", err))
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return newError(KindIO, f.Name, err)
	}

	// Copy up to limit+1 to detect a forged declared size.
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return newError(KindArchiveRead, f.Name, fmt.Errorf("read zip entry: %w", err))
	}
	if n > limit {
		return errorf(KindArchiveRead, f.Name, "zip entry decompressed size exceeds limit (%d bytes)", limit)
	}
	return nil
}

// findFileInsensitive looks up a ZIP entry by path, first trying an exact match,
// then falling back to a case-insensitive comparison.
// Returns nil if no match is found.
func findFileInsensitive(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	lower := strings.ToLower(name)
	for _, f := range zr.File {
		if strings.ToLower(f.Name) == lower {
			return f
		}
	}
	return nil
}

// readZipFile reads the full contents of a small ZIP entry, bounded by
// DefaultMaxEntryBytes.
func readZipFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > uint64(DefaultMaxEntryBytes) {
		return nil, fmt.Errorf("zip entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, DefaultMaxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > DefaultMaxEntryBytes {
		return nil, fmt.Errorf("zip entry %s decompressed size exceeds limit", f.Name)
	}
	return data, nil
}

// isSafePath checks whether p is a safe ZIP-internal path that does not
// escape the archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	if p == "" || strings.Contains(p, "\\") {
		return false
	}
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// findFileFold returns the path of name below dir, matching each path
// element case-insensitively when an exact match does not exist.
// Returns "" if no match is found.
func findFileFold(dir, name string) string {
	exact := filepath.Join(dir, filepath.FromSlash(name))
	if _, err := os.Stat(exact); err == nil {
		return exact
	}

	cur := dir
	for _, part := range strings.Split(name, "/") {
		if part == "" {
			continue
		}
		entries, err := os.ReadDir(cur)
		if err != nil {
			return ""
		}
		next := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), part) {
				next = filepath.Join(cur, e.Name())
				break
			}
		}
		if next == "" {
			return ""
		}
		cur = next
	}
	return cur
}
