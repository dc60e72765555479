// Package sequential runs an action over a slice strictly one item at a time.
//
// It is used wherever the next step depends on the complete result of the
// previous one (hierarchy levels) or where uncontrolled concurrent writes to
// the store are undesirable (batched remote recomputes).
package sequential

import "context"

// Each calls fn for items[0], waits for it to return, then items[1], and so on.
// Two invocations never overlap. The first error aborts the remaining items and
// is returned as-is. Cancellation of ctx is checked before every item.
func Each[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T, index int) error) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, item, i); err != nil {
			return err
		}
	}
	return nil
}
