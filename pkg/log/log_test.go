package log

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	code := -32601
	ev := Event{
		Timestamp: time.Now().UTC(),
		SessionID: "a5b0e6f2-9c1d-4e3a-8f7b-1234567890ab",
		Direction: DirectionIn,
		Layer:     LayerWire,
		Category:  CategoryMessage,
		DeviceID:  "net_192_168_1_50_9100",
		Message: &MessageEvent{
			Type:      MessageTypeRequest,
			Method:    "printer.print",
			RequestID: "3",
			ErrorCode: &code,
			Size:      128,
		},
	}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.SessionID, decoded.SessionID)
	assert.Equal(t, ev.DeviceID, decoded.DeviceID)
	require.NotNil(t, decoded.Message)
	assert.Equal(t, "printer.print", decoded.Message.Method)
	assert.Equal(t, -32601, *decoded.Message.ErrorCode)
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cborlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		logger.Log(Event{
			Timestamp: time.Now(),
			SessionID: "s1",
			Direction: DirectionOut,
			Layer:     LayerTransport,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntitySession,
				NewState: "CONNECTED",
			},
		})
	}
	logger.Log(Event{
		Timestamp: time.Now(),
		SessionID: "s2",
		Layer:     LayerService,
		Category:  CategoryError,
		Error:     &ErrorEventData{Message: "dial timeout", Context: "network.connect"},
	})
	require.NoError(t, logger.Close())

	// Log after close is a no-op.
	logger.Log(Event{SessionID: "ignored"})

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	events, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, events, 6)
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cborlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	logger.Log(Event{Timestamp: time.Now(), SessionID: "s1", Category: CategoryMessage})
	logger.Log(Event{Timestamp: time.Now(), SessionID: "s2", Category: CategoryError})
	logger.Log(Event{Timestamp: time.Now(), SessionID: "s1", Category: CategoryError})
	require.NoError(t, logger.Close())

	errCat := CategoryError
	reader, err := NewFilteredReader(path, Filter{SessionID: "s1", Category: &errCat})
	require.NoError(t, err)
	defer reader.Close()

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, CategoryError, ev.Category)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cborlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Log(Event{Timestamp: time.Now(), Category: CategoryMessage})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	events, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, events, 400)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "TRANSPORT", LayerTransport.String())
	assert.Equal(t, "WIRE", LayerWire.String())
	assert.Equal(t, "SERVICE", LayerService.String())
	assert.Equal(t, "MESSAGE", CategoryMessage.String())
	assert.Equal(t, "STATE", CategoryState.String())
	assert.Equal(t, "ERROR", CategoryError.String())
	assert.Equal(t, "JOB", StateEntityJob.String())
	assert.Equal(t, "NOTIFICATION", MessageTypeNotification.String())
}
