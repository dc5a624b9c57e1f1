package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consult-platform/internal/consult"
)

type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (consult.Transaction, error)
}

// URLRenderer resolves a transaction to its document URL under BaseURL.
// Document bytes are produced by the file service that serves BaseURL.
type URLRenderer struct {
	BaseURL      string
	Transactions TransactionReader
}

func (r URLRenderer) Render(ctx context.Context, transactionID string) (string, error) {
	if r.BaseURL == "" {
		return "", errors.New("invoice: base url not configured")
	}
	tx, err := r.Transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return "", fmt.Errorf("load transaction: %w", err)
	}
	if tx.InvoiceRef != "" {
		return tx.InvoiceRef, nil
	}
	return fmt.Sprintf("%s/%s.pdf", strings.TrimRight(r.BaseURL, "/"), tx.ID), nil
}
