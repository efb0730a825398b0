package auth

import (
	"os"
	"strings"
)

// LoadRefreshToken reads the long-lived refresh credential from a file,
// falling back to the CURATOR_REFRESH_TOKEN environment variable. Returns
// "" when neither is available; the manager then serves the static token
// without refreshing.
func LoadRefreshToken(filePath string) string {
	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			if token := strings.TrimSpace(string(data)); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(os.Getenv("CURATOR_REFRESH_TOKEN"))
}
