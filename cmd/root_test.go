package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/config"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/pipeline"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Run(ctx context.Context) (pipeline.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(pipeline.Summary), args.Error(1)
}

func (m *MockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *MockApp) Close() { m.Called() }

func stubApp(t *testing.T, appInstance App, factoryErr error) *config.Config {
	t.Helper()
	var seen config.Config
	saved := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		seen = cfg
		if factoryErr != nil {
			return nil, factoryErr
		}
		return appInstance, nil
	}
	t.Cleanup(func() { newApp = saved })
	return &seen
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANALYZER_SHEETS_SPREADSHEET_ID", "sheet-id")
	t.Setenv("ANALYZER_OPENAI_API_KEY", "sk-test")
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(append(args, "--env-file", filepath.Join("testdata", "absent.env")))
	return root.ExecuteContext(context.Background())
}

func TestRunCommandSucceedsWithRowFailures(t *testing.T) {
	requiredEnv(t)
	mockApp := &MockApp{}
	mockApp.On("Run", mock.Anything).Return(pipeline.Summary{Total: 3, Succeeded: 2, Failed: 1}, nil).Once()
	mockApp.On("Close").Return().Once()
	seen := stubApp(t, mockApp, nil)

	require.NoError(t, execute("run"))
	assert.Equal(t, "sheet-id", seen.Sheets.SpreadsheetID)
	mockApp.AssertExpectations(t)
}

func TestRunCommandFailsOnScanError(t *testing.T) {
	requiredEnv(t)
	mockApp := &MockApp{}
	mockApp.On("Run", mock.Anything).Return(pipeline.Summary{}, fmt.Errorf("%w: quota", pipeline.ErrScanFailed)).Once()
	mockApp.On("Close").Return().Once()
	stubApp(t, mockApp, nil)

	err := execute("run")
	require.ErrorIs(t, err, pipeline.ErrScanFailed)
	mockApp.AssertExpectations(t)
}

func TestRunCommandInterruptedExitsCleanly(t *testing.T) {
	requiredEnv(t)
	mockApp := &MockApp{}
	mockApp.On("Run", mock.Anything).Return(pipeline.Summary{Total: 5, Succeeded: 2}, context.Canceled).Once()
	mockApp.On("Close").Return().Once()
	stubApp(t, mockApp, nil)

	require.NoError(t, execute("run"))
	mockApp.AssertExpectations(t)
}

func TestRunCommandMissingConfig(t *testing.T) {
	t.Setenv("ANALYZER_OPENAI_API_KEY", "sk-test")
	t.Setenv("ANALYZER_SHEETS_SPREADSHEET_ID", "")
	t.Setenv("SPREADSHEET_ID", "")
	mockApp := &MockApp{}
	stubApp(t, mockApp, nil)

	err := execute("run")
	require.ErrorIs(t, err, config.ErrMissingSpreadsheetID)
	mockApp.AssertNotCalled(t, "Run", mock.Anything)
}

func TestRunCommandInitFailure(t *testing.T) {
	requiredEnv(t)
	stubApp(t, nil, errors.New("no credentials"))

	err := execute("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestResolveAppWithoutServices(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
