package dataset

import (
	"errors"
	"fmt"
)

// manifestNotFoundError indicates the manifest file does not exist.
type manifestNotFoundError struct{ path string }

func (e manifestNotFoundError) Error() string { return "manifest not found: " + e.path }

// IsManifestNotFound reports whether the error indicates a missing manifest,
// unwrapping any %w layers callers added.
func IsManifestNotFound(err error) bool {
	var e manifestNotFoundError
	return errors.As(err, &e)
}

// manifestRowError indicates a malformed manifest row. Row numbers are
// 1-based over data rows (the header is row 0) so callers can point users at
// the exact line to fix.
type manifestRowError struct {
	row int
	msg string
}

func (e manifestRowError) Error() string { return fmt.Sprintf("manifest row %d: %s", e.row, e.msg) }

// Row returns the 1-based data row the error refers to, or 0 when the error
// is not a row error.
func Row(err error) int {
	var re manifestRowError
	if errors.As(err, &re) {
		return re.row
	}
	return 0
}

// IsManifestParseError reports whether the error indicates a malformed row.
func IsManifestParseError(err error) bool {
	var e manifestRowError
	return errors.As(err, &e)
}

// emptyDatasetError indicates zero valid rows after validation.
type emptyDatasetError struct{ path string }

func (e emptyDatasetError) Error() string { return "empty dataset: " + e.path }

// IsEmptyDataset reports whether the error indicates a dataset with no rows.
func IsEmptyDataset(err error) bool {
	var e emptyDatasetError
	return errors.As(err, &e)
}
