package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggers(t *testing.T) {
	cli, server := CLILogger, ServerLogger
	t.Cleanup(func() { CLILogger, ServerLogger = cli, server })

	InitCLILogger("swapgate-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("cli logger ready", zap.String("phase", "pricing"))

	InitServerLogger("swapgate-test", "debug", "test")
	require.NotNil(t, ServerLogger)
	ServerLogger.Info("server logger ready", zap.Int64("chain_id", 1))
}

func TestServerLoggerConfig(t *testing.T) {
	cfg := serverLoggerConfig("swapgate", "WARN", "", "edge")

	assert.Equal(t, "WARN", cfg.DefaultLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "edge", cfg.StaticFields["namespace"])

	logger, err := logging.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug"))
	assert.Equal(t, "WARN", parseLogLevel("warning"))
	assert.Equal(t, "ERROR", parseLogLevel(" Error "))
	assert.Equal(t, "INFO", parseLogLevel("verbose"))
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9464")
	require.NoError(t, err)
	assert.Equal(t, 9464, port)

	_, err = resolvePort("no-port")
	assert.Error(t, err)
}

func TestCrucibleVersionAvailable(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}
