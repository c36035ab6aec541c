package controllers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/services"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

// ProgressImportController bulk-imports progress signals from a CSV/XLSX
// export of an external grading system. Every accepted row goes through the
// same record paths as a live signal, so recalculation and validation are
// identical.
type ProgressImportController struct {
	progress *services.ProgressService
}

func NewProgressImportController(progress *services.ProgressService) *ProgressImportController {
	return &ProgressImportController{progress: progress}
}

// POST /api/v1/curriculum-units/:id/progress/import
// Multipart form with file field: file
func (ic *ProgressImportController) Import(c *fiber.Ctx) error {
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "file is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "cannot open file")
	}
	defer file.Close()

	filename := strings.ToLower(fileHeader.Filename)
	var rows [][]string
	var parseErr error

	switch {
	case strings.HasSuffix(filename, ".csv"):
		rows, parseErr = readCSV(file)
	case strings.HasSuffix(filename, ".xlsx") || strings.HasSuffix(filename, ".xls"):
		// Buffer to temp so excelize can open it
		tmpDir, err := os.MkdirTemp("", "cpxls-")
		if err != nil {
			return utils.Fail(c, fiber.StatusInternalServerError, "failed to buffer upload")
		}
		defer os.RemoveAll(tmpDir)
		tmp := filepath.Join(tmpDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), sanitizeFilename(fileHeader.Filename)))
		if err := c.SaveFile(fileHeader, tmp); err != nil {
			return utils.Fail(c, fiber.StatusBadRequest, "failed to buffer upload")
		}
		rows, parseErr = readXLSX(tmp)
	default:
		return utils.Fail(c, fiber.StatusBadRequest, "unsupported file type (csv, xlsx)")
	}
	if parseErr != nil {
		return utils.Fail(c, fiber.StatusBadRequest, parseErr.Error())
	}
	if len(rows) < 2 {
		return utils.Fail(c, fiber.StatusBadRequest, "file has no data rows")
	}

	col := buildColumnIndex(rows[0])
	for _, required := range []string{"Student", "Kind"} {
		if _, ok := col[required]; !ok {
			return utils.Fail(c, fiber.StatusBadRequest, fmt.Sprintf("missing column: %s", required))
		}
	}

	imported := 0
	var rowErrors []string

	for i := 1; i < len(rows); i++ {
		r := rows[i]
		get := func(key string) string {
			if idx, ok := col[key]; ok && idx < len(r) {
				return strings.TrimSpace(r[idx])
			}
			return ""
		}

		studentID, err := resolveStudent(get("Student"))
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}

		score, _ := strconv.ParseFloat(get("Score"), 64)
		occurredAt := parseOccurredAt(get("OccurredAt"))

		switch strings.ToLower(get("Kind")) {
		case models.SignalAssignment:
			_, err = ic.progress.RecordAssignmentSignal(services.AssignmentSignalInput{
				UnitID:        unitID,
				StudentID:     studentID,
				AssignmentRef: get("Ref"),
				Completed:     parseBool(get("Completed")),
				Score:         score,
				OccurredAt:    occurredAt,
			})
		case models.SignalConcept:
			_, err = ic.progress.RecordConceptSignal(services.ConceptSignalInput{
				UnitID:      unitID,
				StudentID:   studentID,
				ConceptName: get("Concept"),
				Mastered:    parseBool(get("Mastered")),
				Score:       score,
				OccurredAt:  occurredAt,
			})
		case models.SignalTime:
			minutes, convErr := strconv.Atoi(get("Minutes"))
			if convErr != nil {
				err = fmt.Errorf("invalid minutes %q", get("Minutes"))
			} else {
				_, err = ic.progress.RecordTime(unitID, studentID, minutes)
			}
		case models.SignalParticipation:
			_, err = ic.progress.RecordParticipation(unitID, studentID)
		default:
			err = fmt.Errorf("unknown kind %q", get("Kind"))
		}

		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		imported++
	}

	middleware.LogActivity(c, "CREATE", "progress-import", unitID, fiber.Map{
		"imported": imported,
		"failed":   len(rowErrors),
	})

	return utils.SuccessMessage(c, "Import finished", fiber.Map{
		"imported": imported,
		"failed":   len(rowErrors),
		"errors":   rowErrors,
	})
}

// resolveStudent accepts either a numeric user id or a username.
func resolveStudent(raw string) (uint, error) {
	if raw == "" {
		return 0, fmt.Errorf("student is required")
	}
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
		var user models.User
		if err := database.DB.First(&user, uint(id)).Error; err != nil {
			return 0, fmt.Errorf("student %d not found", id)
		}
		return user.ID, nil
	}
	var user models.User
	if err := database.DB.Where("username = ?", raw).First(&user).Error; err != nil {
		return 0, fmt.Errorf("student %q not found", raw)
	}
	return user.ID, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func parseOccurredAt(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %v", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %v", err)
	}
	return rows, nil
}

// buildColumnIndex maps trimmed header names to their column positions.
func buildColumnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name != "" {
			col[name] = i
		}
	}
	return col
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
