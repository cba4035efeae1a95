package validation

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
)

// ValidateRequest is a batch of records to dry-run through normalization
type ValidateRequest struct {
	Records []models.SourceRecord `json:"records"`
}

// RecordResult is the verdict for one record
type RecordResult struct {
	RecordID models.RecordID     `json:"record_id"`
	Valid    bool                `json:"valid"`
	Errors   []string            `json:"errors,omitempty"`
	Issues   []models.FieldIssue `json:"issues,omitempty"`
}

// ValidateResponse represents a validation response
type ValidateResponse struct {
	Valid   bool           `json:"valid"`
	Records []RecordResult `json:"records"`
}

// Register registers validation routes
func Register(g *echo.Group) {
	g.POST("/validate", ValidateRecords)
}

// ValidateRecords reports which records a run would quarantine and why
func ValidateRecords(c echo.Context) error {
	_, validate, err := ectoinject.GetContext[*validator.Validate](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "records is required")
	}

	resp := ValidateResponse{Valid: true, Records: make([]RecordResult, 0, len(req.Records))}
	for _, rec := range req.Records {
		result := RecordResult{RecordID: rec.Key(), Valid: true}
		if err := validate.Struct(rec); err != nil {
			result.Valid = false
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					result.Errors = append(result.Errors, fe.Namespace()+" failed "+fe.Tag())
				}
			} else {
				result.Errors = append(result.Errors, err.Error())
			}
		} else if norm := normalizers.NormalizeRecord(rec); norm.Malformed() {
			result.Valid = false
			result.Issues = norm.Issues
		}
		resp.Valid = resp.Valid && result.Valid
		resp.Records = append(resp.Records, result)
	}

	return c.JSON(http.StatusOK, resp)
}
