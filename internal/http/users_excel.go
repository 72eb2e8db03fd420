package httpapi

import (
	"bytes"
	"fmt"

	"healthmon/internal/domain"

	"github.com/xuri/excelize/v2"
)

// UsersExportHeader 用户导出表头
var UsersExportHeader = []string{
	"User ID",
	"First Name",
	"Last Name",
	"Email",
	"Age",
	"Gender",
	"Height (cm)",
	"Heart Rate",
	"SpO2",
	"Weight",
	"BMI",
	"Remind",
	"Registered At",
	"Updated At",
}

// GenerateUsersExport 生成用户及当前健康状态的 Excel 文件
func GenerateUsersExport(users []domain.User) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Users"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range UsersExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header: %w", err)
		}
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for row, user := range users {
		values := []any{
			user.UserID,
			user.FirstName,
			user.LastName,
			user.Email,
			user.Age,
			user.Gender,
			user.HeightCM,
			metricCell(user.HealthStatus.HeartRate),
			metricCell(user.HealthStatus.SpO2),
			metricCell(user.HealthStatus.Weight),
			metricCell(user.HealthStatus.BMI),
			user.Remind,
			user.CreatedAt.Format("2006-01-02 15:04:05"),
			user.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func metricCell(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
