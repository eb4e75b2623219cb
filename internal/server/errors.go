package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type validationIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// bindingIssues flattens validator failures into client-facing issues. Decode errors yield one issue without a field.
func bindingIssues(err error) []validationIssue {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		issues := make([]validationIssue, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			issues = append(issues, validationIssue{
				Field:   lowerFirst(fieldErr.Field()),
				Rule:    fieldErr.Tag(),
				Message: describeRule(fieldErr),
			})
		}
		return issues
	}
	return []validationIssue{{Rule: "decode", Message: "request body must be valid JSON"}}
}

func describeRule(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fieldErr.Param() + " characters"
	case "max":
		return "must be at most " + fieldErr.Param() + " characters"
	case "gt":
		return "must be greater than " + fieldErr.Param()
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}

func respondInvalid(c *gin.Context, message string, issues []validationIssue) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "issues": issues})
}

// entityMessages holds the client-facing messages for one entity kind.
type entityMessages struct {
	invalidData string
	failed      string
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error, messages entityMessages) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
	case errors.Is(err, notes.ErrFolderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Folder not found"})
	case errors.Is(err, notes.ErrFolderNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "A folder with this name already exists"})
	case errors.Is(err, notes.ErrInvalidTitle):
		respondInvalid(c, messages.invalidData, []validationIssue{{Field: "title", Rule: "required", Message: "Title is required"}})
	case errors.Is(err, notes.ErrFolderNameTooLong):
		respondInvalid(c, messages.invalidData, []validationIssue{{Field: "name", Rule: "max", Message: "Name must be at most " + strconv.Itoa(notes.MaxFolderNameLength) + " characters"}})
	case errors.Is(err, notes.ErrInvalidFolderName):
		respondInvalid(c, messages.invalidData, []validationIssue{{Field: "name", Rule: "required", Message: "Name is required"}})
	case errors.Is(err, notes.ErrUnknownAssociation):
		respondInvalid(c, messages.invalidData, []validationIssue{{Rule: "exists", Message: err.Error()}})
	default:
		payload := gin.H{"error": messages.failed}
		var serviceErr *notes.ServiceError
		if errors.As(err, &serviceErr) {
			payload["code"] = serviceErr.Code()
		}
		h.logger.Error(messages.failed, zap.Error(err), zap.String("request_id", c.GetString(requestIDContextKey)))
		c.JSON(http.StatusInternalServerError, payload)
	}
}
