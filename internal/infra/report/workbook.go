// Package report renders ledger exports for hub managers.
package report

import (
	"fmt"
	"io"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/xuri/excelize/v2"
)

const transactionsSheet = "Transactions"

var transactionHeaders = []string{
	"Transaction ID", "Date", "Collector ID", "Session ID", "Material",
	"Weight (kg)", "Price/kg", "Total", "Cash", "Tokens",
}

// WriteTransactions writes txs as an XLSX workbook with a totals row.
func WriteTransactions(w io.Writer, hubID string, txs []domain.CollectionTransaction) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(transactionsSheet)
	if err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	for i, header := range transactionHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(transactionsSheet, cell, header); err != nil {
			return err
		}
	}

	var total, cash, tokens domain.Money
	for i, tx := range txs {
		row := i + 2
		weight, _ := tx.WeightKg.Float64()
		values := []any{
			tx.ID,
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.CollectorID,
			tx.SessionID,
			string(tx.MaterialType),
			weight,
			tx.PricePerKg.String(),
			tx.TotalValue.String(),
			tx.InstantCash.String(),
			tx.SavingsTokens.String(),
		}
		if err := f.SetSheetRow(transactionsSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		total += tx.TotalValue
		cash += tx.InstantCash
		tokens += tx.SavingsTokens
	}

	totalsRow := len(txs) + 2
	totals := []any{"TOTAL " + hubID, "", "", "", "", "", "", total.String(), cash.String(), tokens.String()}
	if err := f.SetSheetRow(transactionsSheet, fmt.Sprintf("A%d", totalsRow), &totals); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
