// Package file reads items from newline-delimited JSON.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/crimson-sun/swatch/internal/connector"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/model"
)

const maxLine = 4 << 20

func init() {
	connector.Register("file", func() connector.Connector {
		return &Connector{stdin: os.Stdin}
	})
}

// Connector reads one JSON item per line from Extra["path"]. An empty path
// or "-" reads stdin. Blank lines are skipped.
type Connector struct {
	stdin io.Reader
}

func (c *Connector) open(cfg connector.ConnectorConfig) (io.ReadCloser, error) {
	path := cfg.Extra["path"]
	if path == "" || path == "-" {
		return io.NopCloser(c.stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file connector: %w", err)
	}
	return f, nil
}

func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Item, error) {
	r, err := c.open(cfg)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var items []model.Item
	err = scan(ctx, r, func(it model.Item) bool {
		if params.Search != "" && !matches(it, params.Search) {
			return true
		}
		items = append(items, it)
		return params.Limit <= 0 || len(items) < params.Limit
	}, true)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Item, error) {
	r, err := c.open(cfg)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Item, 64)
	go func() {
		defer close(ch)
		defer r.Close()
		err := scan(ctx, r, func(it model.Item) bool {
			select {
			case ch <- it:
				return true
			case <-ctx.Done():
				return false
			}
		}, false)
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("file connector: stream stopped")
		}
	}()
	return ch, nil
}

// scan decodes lines and hands each item to fn until fn returns false.
// With strict set a malformed line aborts the scan, otherwise it is logged
// and skipped.
func scan(ctx context.Context, r io.Reader, fn func(model.Item) bool, strict bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var it model.Item
		if err := json.Unmarshal(b, &it); err != nil {
			if strict {
				return fmt.Errorf("file connector: line %d: %w", line, err)
			}
			logging.Warn().Int("line", line).Err(err).Msg("file connector: skipping malformed line")
			continue
		}
		if !fn(it) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("file connector: %w", err)
	}
	return nil
}

func matches(it model.Item, search string) bool {
	s := strings.ToLower(search)
	return strings.Contains(strings.ToLower(it.Title), s) ||
		strings.Contains(strings.ToLower(it.Description), s)
}
