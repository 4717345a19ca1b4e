package export

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
)

//go:embed assets/logo.png
var logoPNG []byte

// Branding is the image drawn in the PDF header band.
type Branding struct {
	Image []byte
	// ImageType is "PNG" or "JPEG"; it is detected when empty.
	ImageType string
	Width     int
	Height    int
}

// BrandingSource loads the header image. Implementations should return
// promptly once ctx is done.
type BrandingSource interface {
	Load(ctx context.Context) (*Branding, error)
}

// BrandingFunc adapts a function to BrandingSource.
type BrandingFunc func(ctx context.Context) (*Branding, error)

// Load calls fn.
func (fn BrandingFunc) Load(ctx context.Context) (*Branding, error) { return fn(ctx) }

// EmbeddedBranding serves the logo bundled into the binary.
func EmbeddedBranding() BrandingSource {
	return BrandingFunc(func(ctx context.Context) (*Branding, error) {
		return &Branding{Image: logoPNG, ImageType: "PNG"}, nil
	})
}

// FileBranding reads a PNG or JPEG logo from path on every export, so a
// replaced file is picked up without a restart.
func FileBranding(path string) BrandingSource {
	return BrandingFunc(func(ctx context.Context) (*Branding, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read branding image: %w", err)
		}
		return &Branding{Image: data}, nil
	})
}

var errNoBranding = errors.New("no branding source")

// loadBranding resolves the branding image under the configured timeout and
// checks that it decodes. Any error means the caller falls back to the text
// header.
func (e *Exporter) loadBranding(ctx context.Context) (*Branding, error) {
	if e.branding == nil {
		return nil, errNoBranding
	}
	ctx, cancel := context.WithTimeout(ctx, e.brandingTimeout)
	defer cancel()

	type loaded struct {
		b   *Branding
		err error
	}
	ch := make(chan loaded, 1)
	go func() {
		b, err := e.branding.Load(ctx)
		ch <- loaded{b, err}
	}()

	var b *Branding
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("load branding: %w", r.err)
		}
		b = r.b
	case <-ctx.Done():
		return nil, fmt.Errorf("load branding: %w", ctx.Err())
	}
	if b == nil || len(b.Image) == 0 {
		return nil, errors.New("load branding: empty image")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(b.Image))
	if err != nil {
		return nil, fmt.Errorf("decode branding: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, errors.New("decode branding: zero-sized image")
	}
	out := *b
	if out.ImageType == "" {
		out.ImageType = strings.ToUpper(format)
	}
	out.Width, out.Height = cfg.Width, cfg.Height
	return &out, nil
}
