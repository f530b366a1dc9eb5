// Package export renders sync tasks as Excel workbooks for operators.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"catalogsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Tasks"

var headers = []string{
	"ID", "Tenant", "Entity type", "Entity ID", "Operation", "Priority",
	"Status", "Attempts", "Max attempts", "Scheduled at", "Error", "Retry of", "Created at",
}

// Build creates a workbook with one row per task. The caller closes it.
func Build(tasks []models.SyncTask) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})

	for i, task := range tasks {
		row := i + 2
		values := []any{
			task.ID,
			task.TenantKey,
			task.EntityType,
			task.EntityID,
			task.Operation,
			task.Priority,
			task.Status,
			task.Attempts,
			task.MaxAttempts,
			task.ScheduledAt.Format("02.01.2006 15:04:05"),
			derefString(task.Error),
			derefID(task.RetryOf),
			task.CreatedAt.Format("02.01.2006 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		if task.Status == models.TaskFailed {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(sheetName, first, last, failedStyle)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "E", 18)
	_ = f.SetColWidth(sheetName, "F", "I", 12)
	_ = f.SetColWidth(sheetName, "J", "J", 20)
	_ = f.SetColWidth(sheetName, "K", "K", 60)
	_ = f.SetColWidth(sheetName, "L", "M", 20)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Write streams the workbook for tasks to w.
func Write(w io.Writer, tasks []models.SyncTask) error {
	f, err := Build(tasks)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into dir and returns the file path.
func Save(dir string, tasks []models.SyncTask, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Build(tasks)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, fmt.Sprintf("tasks_%s.xlsx", now.Format("2006-01-02_15-04-05")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefID(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}
