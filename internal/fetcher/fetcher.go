package fetcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Fetcher kinds.
const (
	TypeHTTP    = "http"
	TypeBrowser = "browser"
)

// Fetcher is the interface for all page loader implementations.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// userAgents rotates through configured User-Agent strings.
type userAgents struct {
	list []string
	idx  atomic.Int64
}

func (u *userAgents) next() string {
	if len(u.list) == 0 {
		return "BookStalk/" + config.Version
	}
	i := u.idx.Add(1) % int64(len(u.list))
	return u.list[i]
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
