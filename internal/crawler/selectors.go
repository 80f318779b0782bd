package crawler

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

// validateSelector reports a CSS selector that would fail in the browser
// before any page is loaded.
func validateSelector(key, selector string) error {
	if selector == "" {
		return fmt.Errorf("%s is required", key)
	}
	if _, err := cascadia.Compile(selector); err != nil {
		return fmt.Errorf("%s %q is not a valid CSS selector: %w", key, selector, err)
	}
	return nil
}
