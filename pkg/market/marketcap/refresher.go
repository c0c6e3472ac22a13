package marketcap

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Refresher periodically reloads a Table from a Source.
type Refresher struct {
	source   Source
	table    *Table
	interval time.Duration
	onUpdate func()
}

// NewRefresher wires a source to a table. onUpdate runs after every successful refresh.
func NewRefresher(source Source, table *Table, interval time.Duration, onUpdate func()) *Refresher {
	return &Refresher{source: source, table: table, interval: interval, onUpdate: onUpdate}
}

// Refresh fetches once. An empty result leaves the table untouched.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	caps, err := r.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("marketcap: fetch: %w", err)
	}
	if len(caps) == 0 {
		return r.table.Len(), nil
	}
	r.table.Replace(caps)
	if r.onUpdate != nil {
		r.onUpdate()
	}
	return r.table.Len(), nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// With a non-positive interval it refreshes once.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshAndLog(ctx)
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAndLog(ctx)
		}
	}
}

func (r *Refresher) refreshAndLog(ctx context.Context) {
	n, err := r.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logx.WithContext(ctx).Errorf("marketcap: refresh err=%v", err)
		}
		return
	}
	logx.WithContext(ctx).Infof("marketcap: refreshed assets=%d", n)
}
