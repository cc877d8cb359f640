//go:build cgofuse

package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/ajaxzhan/slowpokefs/internal/config"
	slowfs "github.com/ajaxzhan/slowpokefs/internal/fs"
)

// mount serves ops through libfuse via cgofuse until ctx is cancelled.
func mount(ctx context.Context, cfg *config.Config, ops slowfs.Operations, ready func(id string)) error {
	id := uuid.NewString()
	options := []string{"-o", "fsname=" + cfg.Mount.FsName}
	if cfg.Mount.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	if cfg.Mount.SingleThreaded {
		options = append(options, "-s")
	}
	return slowfs.MountCgo(ctx, cfg.Mount.MountPoint, ops, options, func() { ready(id) })
}
