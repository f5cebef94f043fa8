package service

import (
	"strings"

	"expedients/internal/expedient/models"
	dErrors "expedients/pkg/domain-errors"
)

// CreateInput is a validated create request.
type CreateInput struct {
	Title       string
	Description string
}

// NewCreateInput trims and checks presence of both fields.
func NewCreateInput(title, description string) (CreateInput, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return CreateInput{}, dErrors.New(dErrors.CodeValidation, "Title and description are required")
	}
	return CreateInput{Title: title, Description: description}, nil
}

// UpdateInput is a validated partial update. Nil fields are left unchanged.
type UpdateInput struct {
	ID          string
	Title       *string
	Description *string
	Completed   *bool
}

// NewUpdateInput requires at least one field and rejects explicitly empty
// title or description.
func NewUpdateInput(id string, title, description *string, completed *bool) (UpdateInput, error) {
	if strings.TrimSpace(id) == "" {
		return UpdateInput{}, dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if (models.Changes{Title: title, Description: description, Completed: completed}).IsEmpty() {
		return UpdateInput{}, dErrors.New(dErrors.CodeValidation,
			"At least one field (title, description, or completed) must be provided for update")
	}
	in := UpdateInput{ID: id, Completed: completed}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return UpdateInput{}, dErrors.New(dErrors.CodeValidation, "title cannot be empty")
		}
		in.Title = &t
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if d == "" {
			return UpdateInput{}, dErrors.New(dErrors.CodeValidation, "description cannot be empty")
		}
		in.Description = &d
	}
	return in, nil
}
