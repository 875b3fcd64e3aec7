package segmented

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitdl/internal/utils"
)

// RemoteInfo is what the coordinator learns about the source before planning.
type RemoteInfo struct {
	Size          int64
	AcceptsRanges bool
}

// Probe discovers the total size of url. It tries HEAD first and falls back
// to a GET whose body is dropped once the headers arrive, for servers that
// reject HEAD or omit the length there.
func Probe(ctx context.Context, client utils.HTTPDoer, url string) (*RemoteInfo, error) {
	info, err := probeWith(ctx, client, http.MethodHead, url)
	if err == nil && info.Size > 0 {
		return info, nil
	}
	if err != nil {
		log.Debug().Str("op", "segmented/probe").Err(err).Msg("HEAD probe failed, falling back to GET")
	}
	info, err = probeWith(ctx, client, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	if info.Size <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSize, url)
	}
	return info, nil
}

func probeWith(ctx context.Context, client utils.HTTPDoer, method, url string) (*RemoteInfo, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %v", method, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing %s request: %w", method, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s answered %d", ErrUnexpectedStatus, method, resp.StatusCode)
	}
	return &RemoteInfo{
		Size:          resp.ContentLength,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

// ParseContentRange parses a Content-Range header value such as
// "bytes 0-99/1000". Total is -1 when the server sent "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}
	return start, end, total, nil
}
