// Package artifacts publishes finished job outputs into the public artifact
// directory. Writes are staged to a temp file and renamed into place so a
// half-written artifact is never visible under its final name.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"overdub/internal/config"
	"overdub/internal/services"
)

// Publisher stores artifacts on disk and derives their public URLs.
type Publisher struct {
	dir     string
	baseURL string
}

// NewPublisher builds a publisher rooted at the configured artifact directory.
func NewPublisher(cfg *config.Config) *Publisher {
	return &Publisher{
		dir:     cfg.Paths.ArtifactsDir,
		baseURL: strings.TrimRight(cfg.Paths.BaseURL, "/"),
	}
}

// Dir returns the artifact root directory.
func (p *Publisher) Dir() string {
	return p.dir
}

// Publish writes data under a job-scoped name and returns the absolute path
// and public URL of the stored artifact.
func (p *Publisher) Publish(jobID, filename, contentType string, data []byte) (string, string, error) {
	name := artifactName(jobID, filename, contentType)
	finalPath := filepath.Join(p.dir, name)

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", "", services.Wrap(services.ErrStorage, "artifacts", "publish", "create artifact directory", err)
	}

	tmp, err := os.CreateTemp(p.dir, "."+jobID+"-*")
	if err != nil {
		return "", "", services.Wrap(services.ErrStorage, "artifacts", "publish", "create staging file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", "", services.Wrap(services.ErrStorage, "artifacts", "publish", "write artifact", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", services.Wrap(services.ErrStorage, "artifacts", "publish", "close staging file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", "", services.Wrap(services.ErrStorage, "artifacts", "publish", "rename into place", err)
	}

	return finalPath, p.baseURL + "/artifacts/" + name, nil
}

// artifactName builds a deterministic, job-scoped file name. The job id prefix
// keeps retried publishes idempotent and collisions impossible across jobs.
func artifactName(jobID, filename, contentType string) string {
	ext := ""
	if filename != "" {
		ext = filepath.Ext(filename)
	}
	if ext == "" {
		ext = extensionForContentType(contentType)
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = sanitizeName(base)
	if base == "" {
		return jobID + ext
	}
	return fmt.Sprintf("%s-%s%s", jobID, base, ext)
}

func extensionForContentType(contentType string) string {
	if semi := strings.IndexByte(contentType, ';'); semi >= 0 {
		contentType = contentType[:semi]
	}
	switch strings.TrimSpace(strings.ToLower(contentType)) {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/aac":
		return ".aac"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
