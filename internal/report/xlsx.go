package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"easybook/internal/booking"
	"easybook/internal/model"
)

// SheetName is the worksheet name used for week w.
func SheetName(w model.Week) string {
	return booking.FormatDate(w.Start)
}

// WeeklyXLSX writes a workbook with one sheet per week: a title row, a
// header row of dates and one row per facility.
func WeeklyXLSX(out io.Writer, weeks []model.Week, opts Options) error {
	if len(weeks) == 0 {
		return ErrNoWeeks
	}

	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(0)
	for i, w := range weeks {
		sheet := SheetName(w)
		if i == 0 {
			if err := f.SetSheetName(first, sheet); err != nil {
				return fmt.Errorf("report: xlsx sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("report: xlsx sheet: %w", err)
		}
		if err := writeWeekSheet(f, sheet, WeekGrid(w, opts.Mapping, opts.Colors, opts.MaxPerCell)); err != nil {
			return fmt.Errorf("report: xlsx week %s: %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(out); err != nil {
		return fmt.Errorf("report: write xlsx: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	ref, _ := excelize.CoordinatesToCellName(col, row)
	return ref
}

func writeWeekSheet(f *excelize.File, sheet string, g Grid) error {
	lastCol := len(g.Columns) + 1

	if err := f.SetCellStr(sheet, cell(1, 1), g.Title); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, cell(1, 1), cell(lastCol, 1)); err != nil {
		return err
	}
	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, cell(1, 1), cell(lastCol, 1), titleStyle); err != nil {
		return err
	}

	border := []excelize.Border{
		{Type: "left", Color: "333333", Style: 1},
		{Type: "right", Color: "333333", Style: 1},
		{Type: "top", Color: "333333", Style: 1},
		{Type: "bottom", Color: "333333", Style: 1},
	}
	headStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"F8F9FA"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    border,
	})
	if err != nil {
		return err
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		Border:    border,
	})
	if err != nil {
		return err
	}

	if err := f.SetCellStr(sheet, cell(1, 2), "施設"); err != nil {
		return err
	}
	for i, col := range g.Columns {
		if err := f.SetCellStr(sheet, cell(i+2, 2), col.Label); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, cell(1, 2), cell(lastCol, 2), headStyle); err != nil {
		return err
	}

	for r, row := range g.Rows {
		y := r + 3
		if err := f.SetCellStr(sheet, cell(1, y), row.ResourceID); err != nil {
			return err
		}
		for c, cl := range row.Cells {
			if len(cl.Events) == 0 {
				continue
			}
			if err := f.SetCellStr(sheet, cell(c+2, y), CellText(cl)); err != nil {
				return err
			}
		}
		if err := f.SetCellStyle(sheet, cell(2, y), cell(lastCol, y), bodyStyle); err != nil {
			return err
		}

		resStyle := &excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
			Border:    border,
		}
		if hex, ok := HexColor(row.Color); ok {
			resStyle.Fill = excelize.Fill{Type: "pattern", Color: []string{hex}, Pattern: 1}
			resStyle.Font.Color = "FFFFFF"
		}
		id, err := f.NewStyle(resStyle)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(1, y), cell(1, y), id); err != nil {
			return err
		}
		if err := f.SetRowHeight(sheet, y, 60); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 24); err != nil {
		return err
	}
	lastName, _ := excelize.ColumnNumberToName(lastCol)
	return f.SetColWidth(sheet, "B", lastName, 22)
}

// CellText is the plain-text rendering of a grid cell, one event per line.
func CellText(c Cell) string {
	lines := make([]string, 0, len(c.Events)+1)
	for _, ev := range c.Events {
		lines = append(lines, fmt.Sprintf("%s %s-%s (%s)", ev.Title, ev.StartTime, ev.EndTime, ev.Room))
	}
	if c.More > 0 {
		lines = append(lines, "...")
	}
	return strings.Join(lines, "\n")
}
