package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"

	"github.com/jaa/hls-scaling/internal/retry"
)

// FileOpener serves file:// hrefs, which point at local mirrors of the
// archive.
type FileOpener struct{}

func (FileOpener) Open(ctx context.Context, href *url.URL) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if href.Host != "" && href.Host != "localhost" {
		return nil, retry.Permanent(fmt.Errorf("file href %s names a remote host", href))
	}
	f, err := os.Open(href.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, href.Path)
		}
		return nil, retry.Permanent(err)
	}
	return f, nil
}
