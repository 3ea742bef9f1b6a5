package main

import (
	"context"
	"errors"
	"fmt"

	miniflux "miniflux.app/v2/client"
)

// minifluxPageSize is how many starred entries are requested per call.
const minifluxPageSize = 100

// minifluxSource lists the URLs of starred entries on a Miniflux server.
type minifluxSource struct {
	client *miniflux.Client
}

func newMinifluxSource(cfg Config) (*minifluxSource, error) {
	if cfg.Miniflux.URL == "" {
		return nil, errors.New("miniflux URL not configured (set MINIFLUX_DOMAIN or miniflux.url)")
	}
	if cfg.Miniflux.Token == "" {
		return nil, errors.New("miniflux token not configured (set API_TOKEN or miniflux.token)")
	}
	// A single credential is sent as the X-Auth-Token API key.
	return &minifluxSource{client: miniflux.NewClient(cfg.Miniflux.URL, cfg.Miniflux.Token)}, nil
}

// ListURLs pages through all starred entries. The client has no context
// support, so cancellation is checked between pages.
func (m *minifluxSource) ListURLs(ctx context.Context) ([]string, error) {
	var urls []string
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := m.client.Entries(&miniflux.Filter{
			Starred: miniflux.FilterOnlyStarred,
			Limit:   minifluxPageSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, fmt.Errorf("miniflux request: %w", err)
		}
		if page == nil {
			break
		}

		for _, e := range page.Entries {
			if e != nil && e.URL != "" {
				urls = append(urls, e.URL)
			}
		}
		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.Total {
			break
		}
	}
	return urls, nil
}
