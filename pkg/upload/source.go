package upload

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// UserAgent is sent when fetching images from URLs
const UserAgent = "BlurAI-Client/1.0"

// Load reads an image from a file path or an http(s) URL and returns it as a
// single-file gesture
func Load(ctx context.Context, hc *http.Client, source string) ([]File, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		f, err := loadURL(ctx, hc, source)
		if err != nil {
			return nil, err
		}
		return []File{f}, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	return []File{{Name: filepath.Base(source), Data: data}}, nil
}

func loadURL(ctx context.Context, hc *http.Client, imageURL string) (File, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return File{}, errors.Wrap(err, "invalid URL")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return File{}, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return File{}, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return File{}, errors.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return File{}, errors.Wrapf(ErrUnsupportedType, "URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, errors.Wrap(err, "failed to read image data")
	}

	// the service needs a file name with an extension it accepts
	name := path.Base(parsedURL.Path)
	if name == "." || name == "/" || filepath.Ext(name) == "" {
		ext := "jpg"
		if contentType == "image/png" {
			ext = "png"
		}
		name = "download." + ext
	}
	return File{Name: name, Data: data}, nil
}
