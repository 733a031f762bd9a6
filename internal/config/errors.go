package config

import (
	"fmt"
	"strings"
)

// Error types reported in ConfigurationError.ErrorType.
const (
	ErrorTypeIO         = "io"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
)

// ConfigurationError describes one problem with a configuration file.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	Field       string   `json:"field,omitempty"` // dotted path, e.g. providers.corp.clientID
	ErrorType   string   `json:"errorType"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	LineNumber  int      `json:"lineNumber,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NewConfigurationError creates a ConfigurationError without details.
func NewConfigurationError(filePath, field, errorType, message string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		Field:     field,
		ErrorType: errorType,
		Message:   message,
	}
}

func (ce ConfigurationError) Error() string {
	location := ce.FilePath
	if ce.Field != "" {
		location += ": " + ce.Field
	}
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, location, ce.Message)
}

// Report renders the error with its line, details and suggestions for
// display to a user.
func (ce ConfigurationError) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", ce.FilePath)
	if ce.LineNumber > 0 {
		fmt.Fprintf(&b, ":%d", ce.LineNumber)
	}
	if ce.Field != "" {
		fmt.Fprintf(&b, " (%s)", ce.Field)
	}
	fmt.Fprintf(&b, ": %s", ce.Message)
	if ce.Details != "" {
		fmt.Fprintf(&b, "\n  got: %s", ce.Details)
	}
	for _, s := range ce.Suggestions {
		fmt.Fprintf(&b, "\n  hint: %s", s)
	}
	return b.String()
}

// ConfigurationErrorCollection is returned when a file has several
// validation problems.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec *ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	default:
		return fmt.Sprintf("%d configuration errors: %s (and %d more)",
			len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
	}
}

// Add appends err to the collection.
func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// Count returns the number of collected errors.
func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

// ForProvider returns the errors reported for one provider entry.
func (cec *ConfigurationErrorCollection) ForProvider(name string) []ConfigurationError {
	prefix := "providers." + name
	var filtered []ConfigurationError
	for _, err := range cec.Errors {
		if err.Field == prefix || strings.HasPrefix(err.Field, prefix+".") {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// Report renders every error, one block each.
func (cec *ConfigurationErrorCollection) Report() string {
	reports := make([]string, len(cec.Errors))
	for i, err := range cec.Errors {
		reports[i] = err.Report()
	}
	return strings.Join(reports, "\n")
}
