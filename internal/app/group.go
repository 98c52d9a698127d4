package app

import (
	"context"
	"errors"
	"sync"
)

// Group runs every fn until all return. The first failure cancels the
// context shared by the rest; all failures are joined.
func Group(ctx context.Context, fns ...func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(fn)
	}
	wg.Wait()
	return errors.Join(errs...)
}
