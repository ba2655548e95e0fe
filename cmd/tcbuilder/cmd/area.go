package cmd

import (
	"context"

	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"go.uber.org/zap"
)

func openArea() (*storagearea.Area, error) {
	return storagearea.Open(tcbFlags.root.storage, storagearea.WithLogger(logger))
}

// lockArea opens the storage area for writing. Another writer makes it fail at once.
func lockArea(ctx context.Context) (*storagearea.Handle, func(), error) {
	a, err := openArea()
	if err != nil {
		return nil, nil, err
	}
	h, err := a.Lock(ctx, false)
	if err != nil {
		closeArea(a)
		return nil, nil, err
	}
	return h, func() {
		if err := h.Release(); err != nil {
			logger.Warn("could not release the storage area", zap.Error(err))
		}
		closeArea(a)
	}, nil
}

func closeArea(a *storagearea.Area) {
	if err := a.Close(); err != nil {
		logger.Warn("could not close the storage area", zap.Error(err))
	}
}
