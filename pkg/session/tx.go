package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
)

// txScope is a transaction that rolls back on Close unless Commit was
// reached.
type txScope struct {
	tx        datasource.Tx
	committed bool
	logger    *zap.Logger
}

func (s *Session) begin(ctx context.Context, conn datasource.Connection) (*txScope, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &txScope{tx: tx, logger: s.logger}, nil
}

func (t *txScope) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.committed = true
	return nil
}

// Close rolls back an uncommitted transaction.
func (t *txScope) Close(ctx context.Context) {
	if t.committed {
		return
	}
	if err := t.tx.Rollback(ctx); err != nil {
		t.logger.Error("Rollback failed", zap.String("error", logging.SanitizeError(err)))
		return
	}
	t.logger.Debug("Transaction rolled back")
}
