package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authaudit/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testRecord(seq int64, principal string) *models.AuditRecord {
	return &models.AuditRecord{
		ID:         uuid.New(),
		RecorderID: uuid.New(),
		Sequence:   seq,
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		EventKind:  models.EventKindAuthFail,
		Principal:  principal,
		Message:    "[FAIL] login attempt for " + principal,
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, testRecord(0, "alice")))
	require.NoError(t, sink.Append(ctx, testRecord(1, "bob")))

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].Principal)
	assert.Equal(t, "bob", records[1].Principal)

	// Records returns a copy
	records[0].Principal = "changed"
	assert.Equal(t, "alice", sink.Records()[0].Principal)
	assert.Equal(t, 2, sink.Len())
}

func TestMemorySink_CancelledContext(t *testing.T) {
	sink := NewMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Append(ctx, testRecord(0, "alice"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sink.Len())
}

func TestWriterSink_Text(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(zapcore.AddSync(&buf), FormatText)

	require.NoError(t, sink.Append(context.Background(), testRecord(0, "alice")))
	require.NoError(t, sink.Append(context.Background(), testRecord(1, "bob")))

	assert.Equal(t, "[FAIL] login attempt for alice\n[FAIL] login attempt for bob\n", buf.String())
}

func TestWriterSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(zapcore.AddSync(&buf), FormatJSON)
	record := testRecord(7, "alice")

	require.NoError(t, sink.Append(context.Background(), record))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, float64(7), line["sequence"])
	assert.Equal(t, "auth_fail", line["event_kind"])
	assert.Equal(t, "alice", line["principal"])
	assert.Equal(t, "2024-03-01T12:00:00Z", line["timestamp"])
	assert.Equal(t, record.ID.String(), line["id"])
	assert.Equal(t, record.RecorderID.String(), line["recorder_id"])
	assert.Equal(t, "[FAIL] login attempt for alice", line["message"])
}

type failingSyncer struct {
	bytes.Buffer
}

func (f *failingSyncer) Sync() error { return errors.New("disk full") }

func TestWriterSink_SyncFailure(t *testing.T) {
	sink := NewWriterSink(&failingSyncer{}, FormatText)

	err := sink.Append(context.Background(), testRecord(0, "alice"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestOpenFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	sink, err := OpenFileSink(path, FormatText)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), testRecord(0, "alice")))
	require.NoError(t, sink.Close())

	// Reopening appends instead of truncating
	sink, err = OpenFileSink(path, FormatText)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), testRecord(1, "bob")))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"[FAIL] login attempt for alice",
		"[FAIL] login attempt for bob",
	}, lines)
}

func TestOpenFileSink_BadPath(t *testing.T) {
	_, err := OpenFileSink(filepath.Join(t.TempDir(), "missing", "audit.log"), FormatJSON)
	assert.Error(t, err)
}

// pipeOutput returns the write end of an OS pipe and a func that closes it and
// returns everything written. fsync on a pipe fails with EINVAL on Linux, the
// same as stderr attached to a pipe or terminal.
func pipeOutput(t *testing.T) (*os.File, func() string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	out := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		out <- string(data)
	}()
	return w, func() string {
		_ = w.Close()
		return <-out
	}
}

func TestLoggerSink(t *testing.T) {
	w, drain := pipeOutput(t)
	observed, logs := observer.New(zapcore.DebugLevel)
	piped := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.Lock(w), zapcore.DebugLevel)
	sink := NewLoggerSink(zap.New(zapcore.NewTee(observed, piped)))
	record := testRecord(3, "alice")

	require.NoError(t, sink.Append(context.Background(), record))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "[FAIL] login attempt for alice", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "audit", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["sequence"])
	assert.Equal(t, "auth_fail", fields["event_kind"])
	assert.Equal(t, "alice", fields["principal"])

	assert.Contains(t, drain(), `"msg":"[FAIL] login attempt for alice"`)
}

func TestWriterSink_Pipe(t *testing.T) {
	w, drain := pipeOutput(t)
	sink := NewWriterSink(w, FormatText)

	require.NoError(t, sink.Append(context.Background(), testRecord(0, "alice")))
	assert.Equal(t, "[FAIL] login attempt for alice\n", drain())
}

func TestSyncErr(t *testing.T) {
	assert.NoError(t, syncErr(nil))
	assert.NoError(t, syncErr(&os.PathError{Op: "sync", Path: "/dev/stderr", Err: syscall.EINVAL}))
	assert.NoError(t, syncErr(&os.PathError{Op: "sync", Path: "/dev/tty", Err: syscall.ENOTTY}))
	assert.Error(t, syncErr(&os.PathError{Op: "sync", Path: "audit.log", Err: syscall.EIO}))
}

// MockSink is a mock implementation of Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Append(ctx context.Context, record *models.AuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func TestTeeSink(t *testing.T) {
	t.Run("appends to every sink", func(t *testing.T) {
		first := NewMemorySink()
		second := NewMemorySink()
		tee := NewTeeSink(first, second)

		require.NoError(t, tee.Append(context.Background(), testRecord(0, "alice")))
		assert.Equal(t, 1, first.Len())
		assert.Equal(t, 1, second.Len())
	})

	t.Run("stops at first failure", func(t *testing.T) {
		first := NewMemorySink()
		failing := new(MockSink)
		failing.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		last := new(MockSink)

		tee := NewTeeSink(first, failing, last)

		err := tee.Append(context.Background(), testRecord(0, "alice"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tee sink 1")
		assert.Equal(t, 1, first.Len())
		last.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		failing.AssertExpectations(t)
	})
}

func TestTeeSink_EchoToPipeLogger(t *testing.T) {
	w, drain := pipeOutput(t)
	echo := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.Lock(w), zapcore.InfoLevel))
	primary := NewMemorySink()
	recorder := NewRecorder(NewTeeSink(primary, NewLoggerSink(echo)), zap.NewNop(), nil, RecorderOptions{})

	for i, principal := range []string{"alice", "bob", "carol"} {
		ack, err := recorder.RecordAuthFailure(context.Background(), principal)
		require.NoError(t, err)
		assert.Equal(t, int64(i), ack.Sequence)
	}

	records := primary.Records()
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, int64(i), record.Sequence)
	}

	lines := strings.Split(strings.TrimSpace(drain()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"sequence":2`)
	assert.Contains(t, lines[2], `"principal":"carol"`)
}
