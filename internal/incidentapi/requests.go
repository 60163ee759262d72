package incidentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/medlog/internal/incident"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// createRequest is the create body. "type" is the older name for
// category; category wins when both are sent. Owner fields are not bound.
type createRequest struct {
	ID          string  `json:"id" validate:"omitempty,max=64"`
	Category    string  `json:"category" validate:"required,max=100"`
	Type        string  `json:"type" validate:"-"`
	Description string  `json:"description" validate:"required,max=10000"`
	Summary     *string `json:"summary" validate:"omitempty,max=10000"`
}

func (c *createRequest) normalize() {
	if strings.TrimSpace(c.Category) == "" {
		c.Category = c.Type
	}
}

func (c *createRequest) toNewIncident() incident.NewIncident {
	return incident.NewIncident{
		ID:          c.ID,
		Category:    c.Category,
		Description: c.Description,
		Summary:     c.Summary,
	}
}

// updateRequest is a partial update; absent fields are left unchanged.
type updateRequest struct {
	Category    *string `json:"category" validate:"omitempty,max=100"`
	Type        *string `json:"type" validate:"-"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
	Summary     *string `json:"summary" validate:"omitempty,max=10000"`
}

func (u *updateRequest) normalize() {
	if u.Category == nil {
		u.Category = u.Type
	}
}

func (u *updateRequest) toPatch() incident.Patch {
	return incident.Patch{
		Category:    u.Category,
		Description: u.Description,
		Summary:     u.Summary,
	}
}

func (u *updateRequest) empty() bool {
	return u.toPatch().Empty()
}

type normalizer interface {
	normalize()
}

// decode parses and validates the body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst normalizer) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	dst.normalize()

	if u, ok := dst.(*updateRequest); ok && u.empty() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no updatable fields"})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request body",
			Fields: fieldErrors(err),
		})
		return false
	}
	return true
}

func fieldErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return out
}
