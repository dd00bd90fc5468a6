package scenario

import (
	"fmt"
	"strings"
)

// SchemaError reports one or more structural problems with a document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	if len(e.Problems) == 1 {
		return "schema: " + e.Problems[0]
	}
	return fmt.Sprintf("schema: %d problems:\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// VersionError reports an unsupported document version.
type VersionError struct {
	Got int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported scenario version %d (supported: %d)", e.Got, SupportedVersion)
}
