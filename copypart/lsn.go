package copypart

import (
	"fmt"
	"strconv"
	"strings"
)

// parseLSN converts a Postgres LSN of the form "16/B374D848" into a single
// uint64 so two LSNs can be compared numerically. String comparison alone
// is not correct once the high segment increments, mirroring the
// original's pg_lsn_in_c helper.
func parseLSN(s string) (uint64, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed LSN %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed LSN %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed LSN %q: %w", s, err)
	}
	return hi<<32 | lo, nil
}

// lsnAtLeast reports whether received has caught up to target.
func lsnAtLeast(received, target string) (bool, error) {
	r, err := parseLSN(received)
	if err != nil {
		return false, err
	}
	t, err := parseLSN(target)
	if err != nil {
		return false, err
	}
	return r >= t, nil
}
