package repository

import "github.com/jackc/pgx/v5/pgxpool"

// NewLedger wires all four repositories over one connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{
		Records:      NewRecordRepository(pool),
		Correlations: NewCorrelationRepository(pool),
		Batches:      NewBatchLogRepository(pool),
		Runs:         NewRunRepository(pool),
	}
}
