package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors aggregates multiple validation failures.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Add records a validation error for a field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}

	var nested *ValidationErrors
	if errors.As(err, &nested) {
		for _, sub := range nested.Errors {
			v.Errors = append(v.Errors, ValidationError{
				Field:   joinField(field, sub.Field),
				Message: sub.Message,
				Cause:   sub.Cause,
			})
		}
		return
	}

	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Message: err.Error(),
		Cause:   err,
	})
}

// AddMessage records a validation error with a custom message.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message == "" {
		return
	}
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Err returns nil if there are no errors, otherwise returns the validation error.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Error implements error.
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	var builder strings.Builder
	for i, err := range v.Errors {
		if i > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(err.Error())
	}

	return builder.String()
}

// Is allows errors.Is to match nested validation errors.
func (v *ValidationErrors) Is(target error) bool {
	if v == nil {
		return false
	}
	for _, err := range v.Errors {
		if err.Cause != nil && errors.Is(err.Cause, target) {
			return true
		}
	}
	return false
}

func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	default:
		return prefix + "." + field
	}
}

var (
	ErrEmptyID          = errors.New("id is required")
	ErrEmptyBody        = errors.New("message body is required")
	ErrSelfConversation = errors.New("cannot open a conversation with yourself")
	ErrInvalidFolder    = errors.New("invalid folder")
)

const maxBodyLength = 10000

// ValidateFolder checks that a folder name is one the inbox knows.
func ValidateFolder(folder Folder) error {
	switch folder {
	case FolderAll, FolderPersonal, FolderBacklot, FolderApplications, FolderCommunity, FolderGreenRoom, FolderJobs:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}
}

// ValidateDirectMessage checks a direct message before it is persisted.
func ValidateDirectMessage(senderID, recipientID, body string) error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(senderID) == "" {
		validation.Add("sender_id", ErrEmptyID)
	}
	if strings.TrimSpace(recipientID) == "" {
		validation.Add("recipient_id", ErrEmptyID)
	} else if senderID == recipientID {
		validation.Add("recipient_id", ErrSelfConversation)
	}
	validateBody(validation, body)
	return validation.Err()
}

// ValidateProjectUpdate checks a project update before it is persisted.
func ValidateProjectUpdate(projectID string, kind UpdateKind, body string) error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(projectID) == "" {
		validation.Add("project_id", ErrEmptyID)
	}
	if kind == "" {
		validation.AddMessage("update_kind", "update kind is required")
	}
	validateBody(validation, body)
	return validation.Err()
}

func validateBody(validation *ValidationErrors, body string) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		validation.Add("body", ErrEmptyBody)
		return
	}
	if len(trimmed) > maxBodyLength {
		validation.AddMessage("body", fmt.Sprintf("message body exceeds %d bytes", maxBodyLength))
	}
}
