package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runPool hands items to at most workers concurrent calls of work. Once
// sched is done no further item starts; items already started always run to
// completion. The first error returned by work stops scheduling too and is
// returned after every started item has finished.
func runPool[T any](sched context.Context, workers int, items []T, work func(T) error) (started int, err error) {
	if workers <= 0 {
		workers = 1
	}
	var group errgroup.Group
	group.SetLimit(workers)

	var count atomic.Int64
	var failed atomic.Bool
	for _, item := range items {
		if sched.Err() != nil || failed.Load() {
			break
		}
		group.Go(func() error {
			// the slot may have opened after the stop request
			if sched.Err() != nil || failed.Load() {
				return nil
			}
			count.Add(1)
			if err := work(item); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}
	err = group.Wait()
	return int(count.Load()), err
}
