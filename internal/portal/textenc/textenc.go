// Package textenc converts outbound text to a connection's configured
// character encoding.
package textenc

import (
	"fmt"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Convert re-encodes text into the named character encoding. Encoding names
// are resolved through the WHATWG index ("utf-8", "iso-8859-1", "koi8-r",
// ...). An empty name or any UTF-8 alias is a passthrough. Code points the
// target encoding cannot represent yield an error rather than a silent
// replacement character; callers decide the degraded-delivery policy.
func Convert(text, name string) (string, error) {
	if name == "" {
		return text, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	canonical, _ := htmlindex.Name(enc)
	if canonical == "utf-8" {
		return text, nil
	}

	out, _, err := transform.String(enc.NewEncoder(), text)
	if err != nil {
		return "", fmt.Errorf("converting to %s: %w", canonical, err)
	}
	return out, nil
}
