package handler

import (
	"expedients/internal/expedient/service"
)

// CreateRequest is the HTTP body for POST /expedients.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`

	parsed service.CreateInput
}

// Validate implements httputil.Validatable.
func (r *CreateRequest) Validate() error {
	in, err := service.NewCreateInput(r.Title, r.Description)
	if err != nil {
		return err
	}
	r.parsed = in
	return nil
}

// Input returns the validated create input.
func (r *CreateRequest) Input() service.CreateInput {
	return r.parsed
}

// UpdateRequest is the HTTP body for PUT /expedients/{id}. Absent fields stay
// nil so they can be told apart from explicit empty values.
type UpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// Input validates the request against the path id.
func (r *UpdateRequest) Input(id string) (service.UpdateInput, error) {
	return service.NewUpdateInput(id, r.Title, r.Description, r.Completed)
}

// MessageResponse is returned by endpoints with no entity to render.
type MessageResponse struct {
	Message string `json:"message"`
}
