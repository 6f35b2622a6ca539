package canvas

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	SetLogger(custom)

	if got := Logger(); got != custom {
		t.Error("Logger() did not return the custom logger set via SetLogger")
	}

	img, err := NewImage(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	img.Close()
	if !strings.Contains(buf.String(), "canvas: image created") {
		t.Errorf("expected the image lifecycle to be logged, got: %s", buf.String())
	}
}

func TestSetLoggerNilRestoresSilent(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	SetLogger(nil)

	if Logger() == nil {
		t.Fatal("Logger() returned nil after SetLogger(nil)")
	}
	Logger().Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("SetLogger(nil) should restore the silent logger, got %q", buf.String())
	}
}
