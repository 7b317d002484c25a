package canonical

import "fmt"

// MappingContractViolationError is raised when a required canonical field
// fails normalization. The whole run fails when this is raised — partial
// canonical commits are not allowed (spec §4.5).
type MappingContractViolationError struct {
	Section      string
	SourceRowRef string
	Field        string
	RawValue     string
	Cause        error
}

func (e *MappingContractViolationError) Error() string {
	return fmt.Sprintf("canonical mapping contract violation: section=%s row=%s field=%s value=%q: %v",
		e.Section, e.SourceRowRef, e.Field, e.RawValue, e.Cause)
}

func (e *MappingContractViolationError) Unwrap() error { return e.Cause }

func violation(section, rowRef, field, raw string, cause error) error {
	return &MappingContractViolationError{Section: section, SourceRowRef: rowRef, Field: field, RawValue: raw, Cause: cause}
}
