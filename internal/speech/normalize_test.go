package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeConverter struct {
	err   error
	calls int
}

func (f *fakeConverter) ToWAV(_ context.Context, src, dst string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("WAV:"), data...), 0o600)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"clip.wav", "wav", false},
		{"clip.MP3", "mp3", false},
		{"voice.note.ogg", "ogg", false},
		{"take.flac", "flac", false},
		{"clip.aac", "", true},
		{"noext", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := FormatOf(tt.filename)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatOf(%q) err = %v, wantErr %v", tt.filename, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("FormatOf(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestNormalize_WAVPassesThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conv := &fakeConverter{}
	n, err := NewNormalizer(dir, conv)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}

	path, cleanup, err := n.Normalize(context.Background(), "../../etc/passwd.wav", strings.NewReader("RIFF"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if conv.calls != 0 {
		t.Errorf("converter should not run for wav input")
	}
	if !strings.HasPrefix(path, dir) {
		t.Errorf("staged file %s escaped upload dir %s", path, dir)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "RIFF" {
		t.Errorf("staged content = %q", data)
	}

	cleanup()
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("cleanup left files behind: %v", names)
	}
}

func TestNormalize_ConvertsAndRemovesSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conv := &fakeConverter{}
	n, _ := NewNormalizer(dir, conv)

	path, cleanup, err := n.Normalize(context.Background(), "memo.mp3", strings.NewReader("ID3"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	defer cleanup()

	if filepath.Ext(path) != ".wav" {
		t.Errorf("expected a wav path, got %s", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "WAV:ID3" {
		t.Errorf("converted content = %q", data)
	}
	if names := dirEntries(t, filepath.Dir(path)); len(names) != 1 {
		t.Errorf("source should be removed after conversion, found %v", names)
	}
}

func TestNormalize_ConversionFailureCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conv := &fakeConverter{err: errors.New("corrupt stream")}
	n, _ := NewNormalizer(dir, conv)

	_, cleanup, err := n.Normalize(context.Background(), "memo.ogg", strings.NewReader("OggS"))
	if err == nil {
		t.Fatal("expected conversion error")
	}
	if cleanup != nil {
		t.Error("cleanup should be nil on error")
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("failed conversion left files behind: %v", names)
	}
}

func TestNormalize_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	n, _ := NewNormalizer(dir, &fakeConverter{})

	if _, _, err := n.Normalize(context.Background(), "movie.mp4", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("unexpected files: %v", names)
	}
}

func TestFFmpegConverter_MissingBinary(t *testing.T) {
	t.Parallel()

	conv := FFmpegConverter{Path: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	if err := conv.ToWAV(context.Background(), "in.mp3", "out.wav"); err == nil {
		t.Fatal("expected an error for a missing ffmpeg binary")
	}
}
