//go:build !cgofuse

package main

import (
	"context"

	"github.com/ajaxzhan/slowpokefs/internal/config"
	slowfs "github.com/ajaxzhan/slowpokefs/internal/fs"
)

// mount serves ops with go-fuse until ctx is cancelled.
func mount(ctx context.Context, cfg *config.Config, ops slowfs.Operations, ready func(id string)) error {
	sfs, err := slowfs.NewSlowFS(&slowfs.SlowFSConfig{
		MountPoint:     cfg.Mount.MountPoint,
		FsName:         cfg.Mount.FsName,
		AllowOther:     cfg.Mount.AllowOther,
		SingleThreaded: cfg.Mount.SingleThreaded,
		EntryTimeout:   cfg.Mount.GetEntryTimeout(),
		AttrTimeout:    cfg.Mount.GetAttrTimeout(),
	}, ops)
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-sfs.Ready():
			ready(sfs.ID())
		case <-ctx.Done():
		}
	}()
	return sfs.Mount(ctx)
}
