package launcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/browser"
)

// Opener hands a URL to the operating system. CanOpen reports whether
// something is installed that resolves the URL's scheme; it must be
// cheap.
type Opener interface {
	CanOpen(ctx context.Context, rawURL string) bool
	Open(ctx context.Context, rawURL string) error
}

// BrowserOpener opens URLs with the desktop's default handler. Web URLs
// are always resolvable; custom schemes only when listed as installed.
type BrowserOpener struct {
	installed map[string]bool
	open      func(string) error
}

func NewBrowserOpener(installedSchemes []string) *BrowserOpener {
	o := &BrowserOpener{
		installed: make(map[string]bool, len(installedSchemes)),
		open:      browser.OpenURL,
	}
	for _, s := range installedSchemes {
		s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "://"))
		s = strings.TrimSuffix(s, ":")
		if s != "" {
			o.installed[s] = true
		}
	}
	return o
}

func (o *BrowserOpener) CanOpen(_ context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		return true
	case "":
		return false
	default:
		return o.installed[scheme]
	}
}

func (o *BrowserOpener) Open(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.CanOpen(ctx, rawURL) {
		return fmt.Errorf("no handler for %s", rawURL)
	}
	if err := o.open(rawURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", rawURL, err)
	}
	return nil
}

var _ Opener = (*BrowserOpener)(nil)
