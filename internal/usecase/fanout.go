package usecase

import (
	"context"
	"fmt"
	"sync"
)

// hookResult is the settled outcome of one side-effect hook.
type hookResult struct {
	Name string
	Err  error
}

// settleAll runs every hook concurrently and waits for all of them,
// collecting per-hook errors instead of propagating the first one. A
// panicking hook settles as an error; it never takes the caller down.
func settleAll(ctx context.Context, hooks map[string]func(context.Context) error) []hookResult {
	results := make([]hookResult, 0, len(hooks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, hook := range hooks {
		wg.Add(1)
		go func(name string, hook func(context.Context) error) {
			defer wg.Done()
			err := runHook(ctx, hook)
			mu.Lock()
			results = append(results, hookResult{Name: name, Err: err})
			mu.Unlock()
		}(name, hook)
	}
	wg.Wait()
	return results
}

func runHook(ctx context.Context, hook func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hook(ctx)
}
