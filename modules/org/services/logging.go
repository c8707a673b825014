package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/composables"
)

func logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	logger, ok := composables.TryUseLogger(ctx)
	if !ok {
		return
	}
	logger.WithFields(fields).Log(level, msg)
}

// logMutationRejected logs business rejections at warn and infrastructure
// failures at error.
func logMutationRejected(ctx context.Context, op string, err error) {
	fields := logrus.Fields{
		"operation":  op,
		"request_id": composables.UseRequestID(ctx),
		"error":      err.Error(),
	}
	level := logrus.ErrorLevel
	if svcErr, ok := AsServiceError(err); ok {
		fields["error_code"] = svcErr.Code
		fields["error_kind"] = string(svcErr.Kind)
		if svcErr.Kind != KindInfrastructure {
			level = logrus.WarnLevel
		}
	}
	logWithFields(ctx, level, "org.mutation.rejected", fields)
}
