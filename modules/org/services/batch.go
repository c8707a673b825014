package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var errBatchDryRun = errors.New("org: batch dry run")

// Batch runs fn in one read-write transaction. Mutations made through s with
// the context handed to fn commit or roll back together. No events are
// published for them and the tree cache is invalidated once after commit.
// With dryRun the transaction is always rolled back.
func (s *OrgService) Batch(ctx context.Context, dryRun bool, fn func(txCtx context.Context) error) (err error) {
	ctx, end := s.trace(ctx, "Batch", !dryRun)
	defer end(&err)

	batchCtx := withinBatch(WithSkipEvents(WithSkipCacheInvalidation(ctx)))
	err = s.repo.RunInTx(batchCtx, TxReadWrite, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		if dryRun {
			return errBatchDryRun
		}
		return nil
	})
	if dryRun && errors.Is(err, errBatchDryRun) {
		return nil
	}
	if err != nil {
		return mapPgError(err)
	}

	s.afterCommit(ctx, "Batch", logrus.Fields{"dry_run": dryRun})
	return nil
}
