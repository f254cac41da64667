// Package oplog adapts the ledger's OperationLogger hook to zap.
package oplog

import (
	"context"

	"github.com/leadpilot/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

// ZapLogger emits one structured log line per ledger operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID.String() != "" {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.CreditType != "" {
		fields = append(fields, zap.String("credit_type", entry.CreditType.String()))
	}
	if entry.HoldID != "" {
		fields = append(fields, zap.String("hold_id", entry.HoldID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.ReferenceID != "" {
		fields = append(fields, zap.String("reference_id", entry.ReferenceID))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		zapLogger.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}
