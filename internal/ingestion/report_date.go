package ingestion

import (
	"time"

	"github.com/aristath/ibkr-flexsync/internal/ledger"
)

// reportDateForRun derives the local business report date for a run
// finishing now, per spec §4.9.
func reportDateForRun(loc *time.Location) time.Time {
	return ledger.ReportDateInLocation(time.Now().UTC(), loc)
}
