package reports

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/xuri/excelize/v2"
)

const (
	StatementSheet       = "Statement"
	StatementContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	statementHeaderRow   = 4
)

var statementHeadings = []string{"Date", "MovementId", "MovementType", "DocumentRef", "LotReference", "Quantity", "RunningBalance"}

// StatementFileName names the export after its subject and date range.
func StatementFileName(st *Statement) string {
	subject := string(st.MetalType)
	if st.ProductId > 0 {
		subject = fmt.Sprintf("product-%d", st.ProductId)
	}
	return fmt.Sprintf("statement-%s-%s-%s.xlsx", subject,
		st.StartDate.Format(utils.DateLayout), st.EndDate.Format(utils.DateLayout))
}

// StatementWorkbook lays a statement out on one sheet: the opening balance, one row per line,
// then the closing balance. Quantities keep the ledger's scale.
func StatementWorkbook(st *Statement) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", StatementSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := fillStatementSheet(f, st); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func fillStatementSheet(f *excelize.File, st *Statement) error {
	set := func(col, row int, value interface{}) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(StatementSheet, cell, value)
	}
	setQty := func(col, row int, v float64) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellFloat(StatementSheet, cell, v, int(utils.QuantityPlaces), 64)
	}

	subject := "Metal " + string(st.MetalType)
	if st.ProductId > 0 {
		subject = fmt.Sprintf("Product %d", st.ProductId)
	}
	if err := set(1, 1, subject); err != nil {
		return err
	}
	if err := set(2, 1, st.StartDate.Format(utils.DateLayout)+" to "+st.EndDate.Format(utils.DateLayout)); err != nil {
		return err
	}
	if err := set(1, 2, "InitialBalance"); err != nil {
		return err
	}
	if err := setQty(2, 2, st.InitialBalance.InexactFloat64()); err != nil {
		return err
	}

	for i, h := range statementHeadings {
		if err := set(i+1, statementHeaderRow, h); err != nil {
			return err
		}
	}
	row := statementHeaderRow + 1
	for _, line := range st.Lines {
		values := []interface{}{
			line.Date.Format(utils.DateLayout),
			line.MovementId,
			line.MovementType,
			line.DocumentRef,
			line.LotReference,
		}
		for i, v := range values {
			if err := set(i+1, row, v); err != nil {
				return err
			}
		}
		if err := setQty(6, row, line.Quantity.InexactFloat64()); err != nil {
			return err
		}
		if err := setQty(7, row, line.RunningBalance.InexactFloat64()); err != nil {
			return err
		}
		row++
	}
	if err := set(1, row, "FinalBalance"); err != nil {
		return err
	}
	return setQty(7, row, st.FinalBalance.InexactFloat64())
}

// WriteStatementWorkbook streams the workbook of st to w.
func WriteStatementWorkbook(w io.Writer, st *Statement) error {
	f, err := StatementWorkbook(st)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
