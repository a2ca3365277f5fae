package persist

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists the JSON schema violations of a stored value.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "persist: invalid stored value: " + strings.Join(e.Problems, "; ")
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Schema compiles a JSON schema into a validate function for Stored. Values
// are checked in their JSON form, so struct fields are matched by json tag.
func Schema[T any](schema []byte) (func(T) error, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("persist: compile schema: %w", err)
	}

	return func(v T) error {
		result, err := compiled.Validate(gojsonschema.NewGoLoader(v))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if result.Valid() {
			return nil
		}
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return &ValidationError{Problems: problems}
	}, nil
}
