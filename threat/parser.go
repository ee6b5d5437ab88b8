package threat

import (
	"bufio"
	"context"
	"io"
	"net/netip"
	"strings"
)

// maxLineBytes bounds a single feed line
const maxLineBytes = 64 * 1024

// parseFeed reads one indicator per line. Blank lines and lines starting with
// '#' are skipped; only the first whitespace-separated field is used, and it
// must be an IP address or CIDR prefix. ctx is checked between lines.
func parseFeed(ctx context.Context, r io.Reader, fn func(indicator string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		indicator, ok := normalizeIndicator(strings.Fields(line)[0])
		if !ok {
			continue
		}
		if err := fn(indicator); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func normalizeIndicator(field string) (string, bool) {
	if addr, err := netip.ParseAddr(field); err == nil {
		return addr.Unmap().String(), true
	}
	if prefix, err := netip.ParsePrefix(field); err == nil {
		return prefix.Masked().String(), true
	}
	return "", false
}
