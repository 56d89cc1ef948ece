package download

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/pkg/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[bool]int
	err     error
	gate    chan struct{}
	arrived chan bool
}

func (f *fakeFetcher) Download(ctx context.Context, filename string, highRes bool) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[bool]int{}
	}
	f.calls[highRes]++
	f.mu.Unlock()

	if f.arrived != nil {
		f.arrived <- highRes
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if highRes {
		return []byte("hd-bytes"), nil
	}
	return []byte("std-bytes"), nil
}

func (f *fakeFetcher) AssetURL(filename string) string { return "http://svc/download/" + filename }

type memSaver struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memSaver) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[name] = data
	return "/mem/" + name, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var processed = types.ImageRef{Name: "photo_blurred.jpg", URI: "http://svc/download/photo_blurred.jpg"}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func TestDownloadNoop(t *testing.T) {
	f := &fakeFetcher{}
	c := NewController(f, &memSaver{}, "blur-ai-", quietLogger())

	path, err := c.Download(context.Background(), types.ImageRef{}, false)
	if err != nil || path != "" {
		t.Errorf("Download() without processed image = %q, %v; want no-op", path, err)
	}
	if len(f.calls) != 0 {
		t.Error("no fetch expected without a processed image")
	}
}

func TestDownloadVariantsAreDistinct(t *testing.T) {
	f := &fakeFetcher{}
	saver := &memSaver{}
	c := NewController(f, saver, "blur-ai-", quietLogger())
	c.SetClock(fixedClock)

	std, err := c.Download(context.Background(), processed, false)
	if err != nil {
		t.Fatalf("Download(false) error = %v", err)
	}
	hd, err := c.Download(context.Background(), processed, true)
	if err != nil {
		t.Fatalf("Download(true) error = %v", err)
	}

	if std != "/mem/blur-ai-1700000000000.jpg" || hd != "/mem/blur-ai-1700000000000-hd.jpg" {
		t.Errorf("unexpected paths %q %q", std, hd)
	}
	if string(saver.files["blur-ai-1700000000000.jpg"]) != "std-bytes" || string(saver.files["blur-ai-1700000000000-hd.jpg"]) != "hd-bytes" {
		t.Errorf("unexpected saved files %v", saver.files)
	}
}

func TestDownloadFailure(t *testing.T) {
	saver := &memSaver{}
	c := NewController(&fakeFetcher{err: errors.New("404")}, saver, "blur-ai-", quietLogger())

	if _, err := c.Download(context.Background(), processed, false); err == nil {
		t.Fatal("Expected error")
	}
	if len(saver.files) != 0 {
		t.Error("nothing must be saved after a failed fetch")
	}
	if c.Busy(false) {
		t.Error("guard must be released after failure")
	}
}

func TestConcurrentVariantsDoNotInterfere(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), arrived: make(chan bool, 2)}
	c := NewController(f, &memSaver{}, "blur-ai-", quietLogger())

	type result struct {
		path string
		err  error
	}
	results := make(chan result, 2)
	for _, hd := range []bool{false, true} {
		hd := hd
		go func() {
			p, err := c.Download(context.Background(), processed, hd)
			results <- result{p, err}
		}()
	}
	// both variants reach the fetcher while the other is still in flight
	<-f.arrived
	<-f.arrived

	if _, err := c.Download(context.Background(), processed, true); !errors.Is(err, ErrBusy) {
		t.Errorf("duplicate high-res download error = %v, want ErrBusy", err)
	}

	close(f.gate)
	for i := 0; i < 2; i++ {
		if r := <-results; r.err != nil || r.path == "" {
			t.Errorf("download %d = %+v", i, r)
		}
	}
}

func TestDownloadAll(t *testing.T) {
	f := &fakeFetcher{}
	c := NewController(f, &memSaver{}, "blur-ai-", quietLogger())
	c.SetClock(fixedClock)

	std, hd, err := c.DownloadAll(context.Background(), processed)
	if err != nil {
		t.Fatalf("DownloadAll() error = %v", err)
	}
	if std == hd || std == "" || hd == "" {
		t.Errorf("Expected two distinct saves, got %q %q", std, hd)
	}
	if f.calls[false] != 1 || f.calls[true] != 1 {
		t.Errorf("Expected one fetch per variant, got %v", f.calls)
	}
}

func TestFileSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := &FileSaver{Dir: dir}

	path, err := s.Save("blur-ai-1.jpg", []byte("raw"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "raw" {
		t.Errorf("saved %q, %v", data, err)
	}
}

func TestFileSaverReencodes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{200, 10, 10, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	s := &FileSaver{Dir: t.TempDir(), Format: "webp", Quality: 80}
	path, err := s.Save("blur-ai-1.png", buf.Bytes())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Ext(path) != ".webp" {
		t.Errorf("Expected .webp extension, got %s", path)
	}

	if _, err := s.Save("bad.png", []byte("not an image")); err == nil {
		t.Error("Expected error re-encoding garbage")
	}
}

func TestDownloadLocalResult(t *testing.T) {
	fetcher := &fakeFetcher{}
	saver := &memSaver{}
	c := NewController(fetcher, saver, "blur-ai-", quietLogger())
	c.SetClock(fixedClock)

	local := types.NewLocalRef("square_photo.png", []byte("masked"))
	std, hd, err := c.DownloadAll(context.Background(), local)
	if err != nil {
		t.Fatalf("DownloadAll() error = %v", err)
	}
	if std != "/mem/blur-ai-1700000000000.png" || hd != "/mem/blur-ai-1700000000000-hd.png" {
		t.Errorf("unexpected paths %s, %s", std, hd)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("local results must not be fetched, got %v", fetcher.calls)
	}
	for name, data := range saver.files {
		if string(data) != "masked" {
			t.Errorf("%s = %q, want the in-memory bytes", name, data)
		}
	}
}
