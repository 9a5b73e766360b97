package overwrite

import "fmt"

// RenderError reports a templating failure.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("render %s: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PairError carries the (category, source, variant) of a failed artifact.
type PairError struct {
	Category string
	Source   string
	Variant  string
	Path     string
	Err      error
}

func (e *PairError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("category=%s source=%s variant=%s: %v", e.Category, e.Source, e.Variant, e.Err)
}

func (e *PairError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
