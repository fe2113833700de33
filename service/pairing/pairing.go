// Package pairing renders the launch address as a QR code so a phone
// can open the same branded content.
package pairing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"

	qrcode "github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

const (
	DefaultForeground = "#000000"
	DefaultBackground = "#ffffff"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Options struct {
	Foreground string
	Background string
	// ModuleWidth is the pixel size of one QR module.
	ModuleWidth uint8
}

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

// PNG encodes content as a QR code image.
func PNG(content string, opts Options) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("nothing to encode")
	}

	qrc, err := qrcode.NewWith(content, qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionMedium))
	if err != nil {
		return nil, fmt.Errorf("failed to build QR code: %w", err)
	}

	width := opts.ModuleWidth
	if width == 0 {
		width = 8
	}

	buf := nopCloser{Buffer: new(bytes.Buffer)}
	w := standard.NewWithWriter(buf,
		standard.WithFgColorRGBHex(color(opts.Foreground, DefaultForeground)),
		standard.WithBgColorRGBHex(color(opts.Background, DefaultBackground)),
		standard.WithQRWidth(width),
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
	)
	if err := qrc.Save(w); err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI is PNG as an inline image URL.
func DataURI(content string, opts Options) (string, error) {
	png, err := PNG(content, opts)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func color(c, fallback string) string {
	if hexColor.MatchString(c) {
		return c
	}
	return fallback
}
