package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/common"
)

func TestDecodeLine(t *testing.T) {
	t.Run("progress line", func(t *testing.T) {
		line, err := DecodeLine(`PROGRESS:{"progress":40,"processed_invoices":4,"total_invoices":10,"successful_imports":3,"failed_invoices":1,"current_step":"Processing invoice rows"}`)
		require.NoError(t, err)

		progress, ok := line.(ProgressLine)
		require.True(t, ok)
		assert.Equal(t, 40, progress.Progress)
		assert.Equal(t, 4, progress.ProcessedInvoices)
		assert.Equal(t, 10, progress.TotalInvoices)
		assert.Equal(t, 1, progress.Failed())
		assert.Equal(t, "Processing invoice rows", progress.CurrentStep)
	})

	t.Run("stats line", func(t *testing.T) {
		line, err := DecodeLine(`STATS:{"total_invoices":10,"processed_invoices":10,"successful_imports":8,"failed_imports":2}`)
		require.NoError(t, err)

		stats, ok := line.(StatsLine)
		require.True(t, ok)
		assert.Equal(t, 8, stats.Stats.SuccessfulImports)
		assert.Equal(t, 2, stats.Stats.FailedImports)
	})

	t.Run("result line", func(t *testing.T) {
		line, err := DecodeLine(`RESULT:{"success":true,"stats":{"total_invoices":10,"successful_imports":8,"current_step":"Done","progress":100}}`)
		require.NoError(t, err)

		result, ok := line.(ResultLine)
		require.True(t, ok)
		assert.True(t, result.Success)
		assert.Equal(t, 100, result.Stats.Progress)
	})

	t.Run("result line with space after tag", func(t *testing.T) {
		// The automation process prints "RESULT: {...}".
		line, err := DecodeLine(`RESULT: {"success":false,"error":"Failed to login to ERP","stats":{}}`)
		require.NoError(t, err)

		result, ok := line.(ResultLine)
		require.True(t, ok)
		assert.False(t, result.Success)
		assert.Equal(t, "Failed to login to ERP", result.Error)
	})

	t.Run("free text becomes log line", func(t *testing.T) {
		line, err := DecodeLine("[2025-03-14 09:26:53] INFO: Logging into ERP system\n")
		require.NoError(t, err)

		log, ok := line.(LogLine)
		require.True(t, ok)
		assert.Equal(t, "[2025-03-14 09:26:53] INFO: Logging into ERP system", log.Text)
	})

	t.Run("malformed tagged json is a protocol error", func(t *testing.T) {
		line, err := DecodeLine(`PROGRESS:{not json`)
		assert.Nil(t, line)
		require.Error(t, err)

		var protoErr *common.ProtocolError
		assert.ErrorAs(t, err, &protoErr)
	})
}
