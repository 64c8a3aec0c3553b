package fiscal

import "fmt"

// ValidationError reports rejected caller input. The HTTP layer maps it to
// a 400 response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
