package keyframesink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

func solidCandidate(index int64, width, height int) types.KeyframeCandidate {
	pixels := make([]byte, width*height*3)
	for i := range pixels {
		pixels[i] = byte(i % 255)
	}
	return types.KeyframeCandidate{
		Frame:  types.Frame{Index: index, Timestamp: float64(index), Width: width, Height: height, Pixels: pixels},
		Reason: types.ReasonChanged,
		Score:  0.5,
	}
}

func TestEncodeProducesNonEmptyJPEG(t *testing.T) {
	obs, err := Encode(Config{MaxWidth: 16, JPEGQuality: 0.6}, solidCandidate(0, 32, 24))
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if len(obs.JPEG) == 0 {
		t.Fatal("expected non-empty JPEG output")
	}
	if obs.Index != 0 {
		t.Fatalf("expected index 0, got %d", obs.Index)
	}
	if obs.Reason != types.ReasonChanged {
		t.Fatalf("expected reason to carry through, got %s", obs.Reason)
	}
}

func TestSinkWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{OutputDir: dir, QueueDepth: 4})

	obs, err := Encode(Config{MaxWidth: 16, JPEGQuality: 0.6}, solidCandidate(3, 32, 24))
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	s.Submit(Item{SessionID: "sess-1", Index: obs.Index, JPEG: obs.JPEG})
	s.Close()

	path := filepath.Join(dir, "sess-1_00000003.jpg")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be written: %v", err)
	}
}

func TestSinkDropsOldestWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{OutputDir: dir, QueueDepth: 1})

	for i := int64(0); i < 5; i++ {
		s.Submit(Item{SessionID: "sess-1", Index: i, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}})
	}
	s.Close()

	if s.Dropped() == 0 {
		t.Fatal("expected at least one dropped item under sustained overflow")
	}
}

func TestSinkWithoutOutputDirIsNoop(t *testing.T) {
	s := New(Config{QueueDepth: 4})
	s.Submit(Item{SessionID: "sess-1", Index: 0, JPEG: []byte{0xFF}})
	time.Sleep(10 * time.Millisecond)
	s.Close()

	if s.Dropped() != 0 || s.Errors() != 0 {
		t.Fatal("expected a sink with no OutputDir to be a pure no-op")
	}
}

func TestResizeRGBPreservesAspectRatioAndCapsWidth(t *testing.T) {
	pixels := make([]byte, 64*48*3)
	img := resizeRGB(pixels, 64, 48, 32)
	bounds := img.Bounds()
	if bounds.Dx() != 32 {
		t.Fatalf("expected width 32, got %d", bounds.Dx())
	}
	if bounds.Dy() != 24 {
		t.Fatalf("expected height 24, got %d", bounds.Dy())
	}
}

func TestResizeRGBNoopWhenBelowMaxWidth(t *testing.T) {
	pixels := make([]byte, 16*12*3)
	img := resizeRGB(pixels, 16, 12, 64)
	bounds := img.Bounds()
	if bounds.Dx() != 16 || bounds.Dy() != 12 {
		t.Fatalf("expected unchanged dimensions, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}
