package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrUnsupportedFormat is returned for uploads that are not wav, mp3, ogg
// or flac.
var ErrUnsupportedFormat = errors.New("speech: unsupported audio format")

// supportedFormats lists accepted upload extensions.
var supportedFormats = map[string]bool{
	"wav":  true,
	"mp3":  true,
	"ogg":  true,
	"flac": true,
}

// FormatOf returns the lowercase extension of filename if it is a supported
// audio format.
func FormatOf(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !supportedFormats[ext] {
		return "", ErrUnsupportedFormat
	}
	return ext, nil
}

// Converter converts the audio file at src to a WAV file at dst.
type Converter interface {
	ToWAV(ctx context.Context, src, dst string) error
}

// FFmpegConverter converts audio by running ffmpeg.
type FFmpegConverter struct {
	Path string
	// GracePeriod is how long ffmpeg may take to exit after SIGTERM when
	// the context is canceled.
	GracePeriod time.Duration
}

// ToWAV implements Converter. Output is 16 kHz mono PCM.
func (f FFmpegConverter) ToWAV(ctx context.Context, src, dst string) error {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	grace := f.GracePeriod
	if grace == 0 {
		grace = 5 * time.Second
	}

	cmd := exec.CommandContext(ctx, path, //nolint:gosec // path comes from config, args are generated
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-ac", "1", "-ar", "16000", "-f", "wav",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: killed by context: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("ffmpeg: exit code %d: %w: %s", cmd.ProcessState.ExitCode(), err, msg)
	}
	return nil
}

// Normalizer stages uploads in a scratch directory and converts them to
// WAV.
type Normalizer struct {
	dir       string
	converter Converter
}

// NewNormalizer creates a Normalizer that stages files under dir.
func NewNormalizer(dir string, converter Converter) (*Normalizer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Normalizer{dir: dir, converter: converter}, nil
}

// Normalize writes the upload to a private temporary directory and returns
// the path of a WAV rendition. The returned cleanup func removes every file
// created for this upload and must be called once the WAV is no longer
// needed. On error nothing is left behind and cleanup is nil.
func (n *Normalizer) Normalize(ctx context.Context, filename string, body io.Reader) (string, func(), error) {
	format, err := FormatOf(filename)
	if err != nil {
		return "", nil, err
	}

	work, err := os.MkdirTemp(n.dir, "upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(work) }

	src := filepath.Join(work, "input."+format)
	if err := writeFile(src, body); err != nil {
		cleanup()
		return "", nil, err
	}

	if format == "wav" {
		return src, cleanup, nil
	}

	dst := filepath.Join(work, "normalized.wav")
	if err := n.converter.ToWAV(ctx, src, dst); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("convert %s to wav: %w", format, err)
	}
	// The source is no longer needed once converted.
	_ = os.Remove(src)

	return dst, cleanup, nil
}

func writeFile(path string, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}
