package services

import "context"

type skipCacheInvalidationKey struct{}
type skipEventsKey struct{}
type batchKey struct{}

// WithSkipCacheInvalidation leaves the tree cache untouched after commits.
// Bulk loaders use it and invalidate once at the end.
func WithSkipCacheInvalidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheInvalidationKey{}, true)
}

// WithSkipEvents suppresses event publication, e.g. for dry runs that roll back.
func WithSkipEvents(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipEventsKey{}, true)
}

func shouldSkipCacheInvalidation(ctx context.Context) bool {
	v := ctx.Value(skipCacheInvalidationKey{})
	skip, _ := v.(bool)
	return skip
}

// withinBatch marks operations run by Batch. They commit only with the batch,
// so Batch alone reports the commit.
func withinBatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, batchKey{}, true)
}

func inBatch(ctx context.Context) bool {
	v, _ := ctx.Value(batchKey{}).(bool)
	return v
}

func shouldSkipEvents(ctx context.Context) bool {
	v := ctx.Value(skipEventsKey{})
	skip, _ := v.(bool)
	return skip
}
