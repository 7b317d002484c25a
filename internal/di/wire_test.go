package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ibkr-flexsync/internal/config"
)

// Wire itself opens a real Postgres connection via store.New (it pings on
// construction), so it has no unit test; these tests cover the
// pure-construction stages that don't need a live database.

func TestInitOrchestrator_BuildsWithValidLocalZone(t *testing.T) {
	cfg := &config.Config{
		AccountID: "U1234567", FlexToken: "tok", FlexQueryID: "q1",
		BaseCurrency: "USD", LocalZone: "Asia/Jerusalem",
	}
	orch, err := initOrchestrator(cfg, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, orch)
}

func TestInitOrchestrator_InvalidLocalZoneFails(t *testing.T) {
	cfg := &config.Config{LocalZone: "Not/AZone"}
	_, err := initOrchestrator(cfg, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestInitScheduler_RegistersIngestionJobOnConfiguredCron(t *testing.T) {
	cfg := &config.Config{
		AccountID: "U1234567", FlexToken: "tok", FlexQueryID: "q1",
		BaseCurrency: "USD", LocalZone: "UTC", IngestionScheduleCron: "0 0 6 * * *",
	}
	orch, err := initOrchestrator(cfg, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	sched, err := initScheduler(cfg, orch, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestInitScheduler_InvalidCronFails(t *testing.T) {
	cfg := &config.Config{LocalZone: "UTC", IngestionScheduleCron: "not a cron expression"}
	orch, err := initOrchestrator(cfg, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = initScheduler(cfg, orch, zerolog.Nop())
	assert.Error(t, err)
}
