package yamlstrip

import "errors"

// ErrNotApplicable reports a document that has nothing to reduce: it is empty,
// null, not a mapping, or carries none of the kept sections.
var ErrNotApplicable = errors.New("yamlstrip: document has no retained sections")

// ParseError wraps a structural YAML failure with the source it came from.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Source == "" {
		return "parse yaml: " + e.Err.Error()
	}
	return "parse yaml " + e.Source + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
