package expect

import (
	"context"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/byte4ever/logexpect/testing/logtail"
)

type tHelper interface {
	Helper()
}

// RequireLogEntry fails t immediately unless src logs a
// line containing expected before it stalls for
// stallTimeout or exits.
func RequireLogEntry(
	t require.TestingT,
	src logtail.Source,
	expected string,
	stallTimeout time.Duration,
) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	err := WaitForLogEntry(
		context.Background(), src, expected, stallTimeout,
	)
	require.NoError(t, err, "expected log entry %q", expected)
}
