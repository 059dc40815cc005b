// Package numbering allocates document numbers per tenant, document type and month.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Format renders a document number, e.g. STK-202503-00001.
func Format(documentType string, date time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", documentType, date.UTC().Format("200601"), seq)
}

// Querier runs one autocommit statement. Give Series a pool of its own: NextNumber is called
// while the posting transaction holds a connection of the main pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Series hands out numbers from ledger_document_sequences. Allocation runs outside the
// posting transaction, so a rolled back posting leaves a gap.
type Series struct {
	db Querier
}

// NewSeries constructs a Series.
func NewSeries(db Querier) *Series {
	return &Series{db: db}
}

// NextNumber implements journals.Numberer and ap.Numberer.
func (s *Series) NextNumber(ctx context.Context, tenantID int64, documentType string, date time.Time) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("numbering: series not initialised")
	}
	if documentType == "" {
		return "", errors.New("numbering: document type required")
	}
	var seq int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO ledger_document_sequences (tenant_id, doc_type, period, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, doc_type, period)
		DO UPDATE SET seq = ledger_document_sequences.seq + 1
		RETURNING seq
	`, tenantID, documentType, date.UTC().Format("200601")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", documentType, err)
	}
	return Format(documentType, date, seq), nil
}
