package coordinator

import "context"

// runShielded executes fn on its own goroutine against a background
// context, detached from whatever request context the caller might be
// honoring, and blocks until it finishes. A client disconnecting mid-request
// cannot abort fn's critical section: the goroutine runs to its commit
// point regardless, and only the delivery of its result back to the HTTP
// response is at the mercy of a closed connection (§5 cancellation shield).
func runShielded[T any](fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(context.Background())
		done <- result{v, err}
	}()
	r := <-done
	return r.v, r.err
}
