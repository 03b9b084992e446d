package models

import (
	"errors"
	"testing"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("body", ErrEmptyBody)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected errors.Is to match ErrEmptyBody, got %v", err)
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("text", "message text is required")

	validation := &ValidationErrors{}
	validation.Add("payload", nested)

	list, ok := validation.Err().(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", validation.Err())
	}
	if len(list.Errors) != 1 || list.Errors[0].Field != "payload.text" {
		t.Fatalf("unexpected nested errors: %+v", list.Errors)
	}
}

func TestValidateDirectMessage(t *testing.T) {
	tests := []struct {
		name      string
		sender    string
		recipient string
		body      string
		want      error
	}{
		{name: "valid", sender: "u1", recipient: "u2", body: "hi"},
		{name: "missing sender", recipient: "u2", body: "hi", want: ErrEmptyID},
		{name: "self", sender: "u1", recipient: "u1", body: "hi", want: ErrSelfConversation},
		{name: "blank body", sender: "u1", recipient: "u2", body: "   ", want: ErrEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDirectMessage(tt.sender, tt.recipient, tt.body)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateProjectUpdate(t *testing.T) {
	if err := ValidateProjectUpdate("p1", UpdateKindMilestone, "wrapped day 3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateProjectUpdate("", "", "")
	list, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(list.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(list.Errors), err)
	}
}

func TestValidateFolder(t *testing.T) {
	if err := ValidateFolder(FolderGreenRoom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateFolder("spam"); !errors.Is(err, ErrInvalidFolder) {
		t.Fatalf("expected ErrInvalidFolder, got %v", err)
	}
}
