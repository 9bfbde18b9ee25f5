package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{
			name:   "empty stderr",
			stderr: "   \n",
			want:   "",
		},
		{
			name:   "missing chromedriver",
			stderr: "selenium.common.exceptions.WebDriverException: 'chromedriver' executable needs to be in PATH",
			want:   "Automation driver not installed on the server",
		},
		{
			name:   "missing browser",
			stderr: "Exception: Chrome/Chromium browser not found. Please install google-chrome.",
			want:   "Chrome/Chromium browser not found on the server",
		},
		{
			name:   "missing python dependency",
			stderr: "ModuleNotFoundError: No module named 'selenium'",
			want:   "Automation dependencies missing on the server",
		},
		{
			name:   "permission denied",
			stderr: "PermissionError: [Errno 13] Permission denied: '/tmp/invoice_downloads'",
			want:   "Permission denied running the automation process",
		},
		{
			name:   "connection refused",
			stderr: "urllib3.exceptions.NewConnectionError: Connection refused",
			want:   "Could not reach the target system (connection refused)",
		},
		{
			name:   "unknown error surfaces verbatim",
			stderr: "Traceback (most recent call last): something odd",
			want:   "Import process error: Traceback (most recent call last): something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStderr(tt.stderr))
		})
	}
}

func TestClassifyStderrTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := classifyStderr(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Less(t, len(got), 400)
}
