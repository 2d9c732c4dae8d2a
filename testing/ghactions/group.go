// Package ghactions writes GitHub Actions workflow
// commands.
package ghactions

import (
	"fmt"
	"io"
	"os"
)

// Enabled reports whether the process runs inside a
// GitHub Actions job.
func Enabled() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

// Group opens a workflow log group named name and
// returns the function that closes it. Outside of
// GitHub Actions both are no-ops.
func Group(w io.Writer, name string) func() {
	if !Enabled() {
		return func() {}
	}

	//nolint:errcheck // best-effort console output
	fmt.Fprintf(w, "\n::group::%s\n", name)

	return func() {
		//nolint:errcheck // best-effort console output
		fmt.Fprint(w, "\n::endgroup::\n")
	}
}
