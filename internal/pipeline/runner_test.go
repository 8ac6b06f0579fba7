package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

// MockRowStore mocks the kickstarter.RowStore interface.
type MockRowStore struct {
	mock.Mock
}

// ScanPending satisfies the kickstarter.RowStore interface for the mock.
func (m *MockRowStore) ScanPending(ctx context.Context) ([]kickstarter.WorkItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]kickstarter.WorkItem)
	return items, args.Error(1)
}

// WriteReport satisfies the kickstarter.RowStore interface for the mock.
func (m *MockRowStore) WriteReport(ctx context.Context, row int, primary, secondary string) error {
	args := m.Called(ctx, row, primary, secondary)
	return args.Error(0)
}

// WriteError satisfies the kickstarter.RowStore interface for the mock.
func (m *MockRowStore) WriteError(ctx context.Context, row int, message string) error {
	args := m.Called(ctx, row, message)
	return args.Error(0)
}

type fakeSession struct {
	mu      sync.Mutex
	panicOn string
	fetched []string
	closes  int
}

func (s *fakeSession) FetchProject(_ context.Context, url string) kickstarter.ProjectRecord {
	s.mu.Lock()
	s.fetched = append(s.fetched, url)
	s.mu.Unlock()
	if url == s.panicOn {
		panic("fetch exploded")
	}
	return kickstarter.ProjectRecord{SourceURL: url, ProductName: "Scraped " + url, Category: kickstarter.Unknown}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []kickstarter.ReportRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req kickstarter.ReportRequest) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return string(req.Variant) + " report for " + req.Record.SourceURL
}

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.delays = append(p.delays, d)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

type staticIDs struct{ err error }

func (s staticIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "run-1", nil
}

type memoryArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memoryArchive) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[path] = data
	return "mem://" + path, nil
}

var threeItems = []kickstarter.WorkItem{
	{RowIndex: 2, SourceURL: "https://ks.example/1", ProductName: "One", MakerName: "Maker"},
	{RowIndex: 3, SourceURL: "https://ks.example/2"},
	{RowIndex: 4, SourceURL: "https://ks.example/3", CreatorName: "Creator"},
}

func testConfig() Config {
	return Config{RowDelay: 3 * time.Second, GenerationDelay: 2 * time.Second}
}

func TestRunIsolatesRowFailures(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems, nil)
	store.On("WriteReport", mock.Anything, 2, "primary report for https://ks.example/1", "secondary report for https://ks.example/1").Return(nil).Once()
	store.On("WriteReport", mock.Anything, 4, "primary report for https://ks.example/3", "secondary report for https://ks.example/3").Return(nil).Once()
	store.On("WriteError", mock.Anything, 3, "エラー: fetch exploded").Return(nil).Once()

	session := &fakeSession{panicOn: "https://ks.example/2"}
	generator := &fakeGenerator{}
	pauser := &recordingPauser{}
	runner := New(store, session, generator, nil, pauser, fixedClock{}, staticIDs{}, testConfig(), nil)

	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{RunID: "run-1", Total: 3, Succeeded: 2, Failed: 1}, summary)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "WriteReport", 2)
	store.AssertNumberOfCalls(t, "WriteError", 1)
	assert.Equal(t, 1, session.closes)
	assert.Len(t, session.fetched, 3)

	require.Len(t, generator.requests, 4)
	assert.Equal(t, kickstarter.Primary, generator.requests[0].Variant)
	assert.Equal(t, kickstarter.Secondary, generator.requests[1].Variant)
	assert.Equal(t, "Maker", generator.requests[0].MakerName)
	assert.Equal(t, "Creator", generator.requests[3].CreatorName)

	rowDelays := 0
	for _, d := range pauser.delays {
		if d == 3*time.Second {
			rowDelays++
		}
	}
	assert.Equal(t, 2, rowDelays, "row delay applies between rows only")
}

func TestRunScanFailure(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return([]kickstarter.WorkItem{}, errors.New("quota"))
	session := &fakeSession{}

	runner := New(store, session, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{}, testConfig(), nil)
	summary, err := runner.Run(context.Background())

	require.ErrorIs(t, err, ErrScanFailed)
	assert.Contains(t, err.Error(), "quota")
	assert.Equal(t, Summary{RunID: "run-1"}, summary)
	assert.Equal(t, 1, session.closes, "session is released even when nothing ran")
}

func TestRunNoPendingRows(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return([]kickstarter.WorkItem{}, nil)
	session := &fakeSession{}

	runner := New(store, session, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{err: errors.New("no entropy")}, testConfig(), nil)
	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, session.fetched)
	assert.Equal(t, 1, session.closes)
}

func TestRunSkipSecondary(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems[:1], nil)
	store.On("WriteReport", mock.Anything, 2, mock.Anything, "").Return(nil).Once()

	generator := &fakeGenerator{}
	pauser := &recordingPauser{}
	cfg := testConfig()
	cfg.SkipSecondary = true
	cfg.BusinessContext = "context"
	runner := New(store, &fakeSession{}, generator, nil, pauser, fixedClock{}, staticIDs{}, cfg, nil)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, generator.requests, 1)
	assert.Equal(t, "context", generator.requests[0].BusinessContext)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, pauser.delays)
	store.AssertExpectations(t)
}

func TestRunPersistenceFailureIsSwallowed(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems[:2], nil)
	store.On("WriteReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sheet locked"))

	runner := New(store, &fakeSession{}, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{}, testConfig(), nil)
	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{RunID: "run-1", Total: 2, Succeeded: 2}, summary)
	store.AssertNotCalled(t, "WriteError", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunErrorMarkerFailureIsSwallowed(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems[1:2], nil)
	store.On("WriteError", mock.Anything, 3, mock.Anything).Return(errors.New("offline"))

	runner := New(store, &fakeSession{panicOn: "https://ks.example/2"}, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{}, testConfig(), nil)
	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{RunID: "run-1", Total: 1, Failed: 1}, summary)
}

func TestRunArchivesRecords(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems[:1], nil)
	store.On("WriteReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	archive := &memoryArchive{}
	cfg := testConfig()
	cfg.ArchivePrefix = "/snapshots/"
	runner := New(store, &fakeSession{}, &fakeGenerator{}, archive, &recordingPauser{}, fixedClock{}, staticIDs{}, cfg, nil)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	data, ok := archive.objects["snapshots/2024-05-01/run-1/row-2.json"]
	require.True(t, ok, "got %v", archive.objects)
	var record kickstarter.ProjectRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "https://ks.example/1", record.SourceURL)
}

func TestRunArchiveFailureDoesNotFailRow(t *testing.T) {
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems[:1], nil)
	store.On("WriteReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	runner := New(store, &fakeSession{}, &fakeGenerator{}, &memoryArchive{err: errors.New("bucket gone")}, &recordingPauser{}, fixedClock{}, staticIDs{}, testConfig(), nil)
	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRunStopsBetweenRowsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &MockRowStore{}
	store.On("ScanPending", mock.Anything).Return(threeItems, nil)
	store.On("WriteReport", mock.Anything, 2, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()
	session := &fakeSession{}

	runner := New(store, session, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{}, testConfig(), nil)
	summary, err := runner.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Summary{RunID: "run-1", Total: 3, Succeeded: 1}, summary)
	assert.Len(t, session.fetched, 1)
	assert.Equal(t, 1, session.closes)
}

func TestNewAppliesDefaults(t *testing.T) {
	runner := New(&MockRowStore{}, &fakeSession{}, &fakeGenerator{}, nil, &recordingPauser{}, fixedClock{}, staticIDs{}, Config{RowDelay: -1, GenerationDelay: -1}, nil)
	assert.Equal(t, DefaultRowDelay, runner.cfg.RowDelay)
	assert.Equal(t, DefaultGenerationDelay, runner.cfg.GenerationDelay)
	assert.Equal(t, "records", runner.cfg.ArchivePrefix)
	assert.Equal(t, "records/2024-05-01/unknown-run/row-7.json", runner.buildArchivePath("", 7))
}
