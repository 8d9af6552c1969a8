package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/simp-lee/epubflat"
	"github.com/simp-lee/epubflat/internal/logging"
)

const epubExt = ".epub"

// msgNotEpub is returned for URLs that do not name an ePub file.
const msgNotEpub = "provide url to epub file."

var (
	errDownloadTooLarge = errors.New("download exceeds size limit")
	errDownloadStatus   = errors.New("unexpected download status")
)

// handleEpub serves GET /epub?url=<archive URL>[&filename=<name>].
func (s *Server) handleEpub(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if !isEpubURL(rawURL) {
		http.Error(w, msgNotEpub, http.StatusBadRequest)
		return
	}
	filename := archiveFilename(rawURL, r.URL.Query().Get("filename"))
	log := logging.FromContext(r.Context(), s.logger).With(zap.String("url", rawURL), zap.String("filename", filename))

	ch := s.group.DoChan(rawURL+"\n"+filename, func() (any, error) {
		// Shared by every waiting request, so not bound to any one of them.
		ctx := context.WithoutCancel(r.Context())
		if s.opts.DownloadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.DownloadTimeout)
			defer cancel()
		}
		return s.convertURL(ctx, log, rawURL, filename)
	})

	select {
	case <-r.Context().Done():
		return
	case res := <-ch:
		if res.Err != nil {
			status := statusFor(res.Err)
			log.Warn("conversion failed", zap.Int("status", status), zap.Error(res.Err))
			http.Error(w, http.StatusText(status)+": "+res.Err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, res.Val.(string))
	}
}

// convertURL downloads rawURL and converts it under the blake3 token of
// filename, titled filename without its extension.
func (s *Server) convertURL(ctx context.Context, log *zap.Logger, rawURL, filename string) (string, error) {
	if err := os.MkdirAll(s.opts.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.opts.WorkDir, "epubflat-dl-")
	if err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	token := archiveToken(filename)
	archivePath := filepath.Join(dir, token+epubExt)
	n, err := s.download(ctx, rawURL, archivePath)
	if err != nil {
		return "", err
	}
	log.Debug("downloaded", zap.String("token", token), zap.Int64("bytes", n))

	title := strings.TrimSuffix(filename, epubExt)
	res, err := s.opts.Converter.Convert(ctx, archivePath, title)
	if err != nil {
		return "", err
	}
	log.Info("converted", zap.String("token", token), zap.Int("entries", res.Entries), zap.Int("blocks", res.Blocks))

	s.optimizeImages(log, res.Root)
	return res.HTML, nil
}

// download fetches rawURL into dest, enforcing MaxDownloadBytes, and returns
// the number of bytes written.
func (s *Server) download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s", errDownloadStatus, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	defer f.Close()

	var body io.Reader = resp.Body
	limit := s.opts.MaxDownloadBytes
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return n, fmt.Errorf("download: %w", err)
	}
	if limit > 0 && n > limit {
		return n, fmt.Errorf("%w (%d bytes)", errDownloadTooLarge, limit)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("write download file: %w", err)
	}
	return n, nil
}

// optimizeImages starts the configured optimizer on dir without waiting for
// it. Failures are only logged.
func (s *Server) optimizeImages(log *zap.Logger, dir string) {
	if len(s.opts.ImageOptimizer) == 0 {
		return
	}
	args := append(append([]string(nil), s.opts.ImageOptimizer[1:]...), dir)
	cmd := exec.Command(s.opts.ImageOptimizer[0], args...)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Warn("image optimizer failed",
				zap.Strings("argv", cmd.Args),
				zap.ByteString("output", out),
				zap.Error(err),
			)
			return
		}
		log.Debug("images optimized", zap.String("dir", dir))
	}()
}

// statusFor maps a conversion error to an HTTP status.
func statusFor(err error) int {
	var fe *epubflat.Error
	switch {
	case errors.Is(err, errDownloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errDownloadStatus):
		return http.StatusBadGateway
	case errors.As(err, &fe):
		if fe.Kind == epubflat.KindIO {
			return http.StatusInternalServerError
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// isEpubURL reports whether raw is an absolute http(s) URL naming an ePub,
// either by its path or by its filename query parameter.
func isEpubURL(raw string) bool {
	if !strings.HasSuffix(strings.ToLower(raw), epubExt) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// archiveFilename picks the display file name: the explicit parameter, the
// download URL's own filename query parameter, or its last path segment.
func archiveFilename(rawURL, explicit string) string {
	if explicit != "" {
		return explicit
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	if f := u.Query().Get("filename"); f != "" {
		return f
	}
	return path.Base(u.Path)
}

// archiveToken names the working copy and the published directory.
func archiveToken(filename string) string {
	sum := blake3.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:16])
}
