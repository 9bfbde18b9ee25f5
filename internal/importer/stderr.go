package importer

import "strings"

// maxStderrMessage caps how much unrecognized stderr is surfaced.
const maxStderrMessage = 300

// knownFailures maps stderr fragments to operator-readable messages.
// The automation stack fails in a handful of well-known ways; anything
// else is truncated and surfaced generically.
var knownFailures = []struct {
	fragment string
	message  string
}{
	{"chromedriver", "Automation driver not installed on the server"},
	{"chrome not found", "Chrome/Chromium browser not found on the server"},
	{"chromium browser not found", "Chrome/Chromium browser not found on the server"},
	{"no module named", "Automation dependencies missing on the server"},
	{"permission denied", "Permission denied running the automation process"},
	{"connection refused", "Could not reach the target system (connection refused)"},
}

// classifyStderr turns captured stderr into a readable failure message.
// Empty stderr returns an empty string; callers fall back to a generic
// message.
func classifyStderr(stderr string) string {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	for _, known := range knownFailures {
		if strings.Contains(lower, known.fragment) {
			return known.message
		}
	}

	if len(trimmed) > maxStderrMessage {
		trimmed = trimmed[:maxStderrMessage] + "..."
	}
	return "Import process error: " + trimmed
}
