package receiver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/goevery/livefeed/internal/ierr"
)

// Transport opens one live connection. The returned body is a
// text/event-stream; cancelling ctx aborts both the dial and the read.
type Transport interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

type HTTPTransport struct {
	client *http.Client
	url    string
}

func NewHTTPTransport(client *http.Client, url string) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPTransport{
		client: client,
		url:    url,
	}
}

func (t *HTTPTransport) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		resp.Body.Close()

		return nil, ierr.New(ierr.ErrorCodeFailedPrecondition,
			fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	return resp.Body, nil
}
