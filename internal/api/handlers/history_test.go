package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duepoint/internal/types"
)

type mockHistoryStore struct {
	mock.Mock
}

func (m *mockHistoryStore) List(ctx context.Context, kind types.TargetKind, filter types.DeliveryHistoryFilter) ([]*types.DeliveryRecord, types.PageInfo, error) {
	args := m.Called(ctx, kind, filter)
	if r := args.Get(0); r != nil {
		return r.([]*types.DeliveryRecord), args.Get(1).(types.PageInfo), args.Error(2)
	}
	return nil, args.Get(1).(types.PageInfo), args.Error(2)
}

func historyRecord(id string) *types.DeliveryRecord {
	return &types.DeliveryRecord{
		ID:          id,
		AccountID:   "acct_1",
		TargetID:    "client_1",
		Kind:        types.KindClient,
		TargetName:  "Ana",
		TargetPhone: "+5511999990000",
		WebhookKind: types.WebhookKindWhatsApp,
		Success:     true,
	}
}

func TestHistoryList_FiltersApplied(t *testing.T) {
	store := new(mockHistoryStore)
	var captured types.DeliveryHistoryFilter
	store.On("List", mock.Anything, types.KindClient, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(types.DeliveryHistoryFilter)
		}).
		Return([]*types.DeliveryRecord{historyRecord("h1")}, types.PageInfo{Count: 1}, nil)

	router := newTestRouter(NewHistoryHandler(store, testLogger()), userActor())
	rec := doJSON(t, router, http.MethodGet,
		"/history/clients?target_id=client_1&success=false&since=2026-06-01T00:00:00Z&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "acct_1", captured.AccountID)
	assert.Equal(t, "client_1", captured.TargetID)
	require.NotNil(t, captured.Success)
	assert.False(t, *captured.Success)
	assert.Equal(t, 10, captured.Limit)
	assert.Equal(t, "2026-06-01T00:00:00Z", captured.Since.Format("2006-01-02T15:04:05Z"))
}

func TestHistoryList_UnknownKind(t *testing.T) {
	store := new(mockHistoryStore)

	router := newTestRouter(NewHistoryHandler(store, testLogger()), userActor())
	rec := doJSON(t, router, http.MethodGet, "/history/llamas", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidKind), errorCode(t, rec))
}

func TestHistoryList_BadSuccessValue(t *testing.T) {
	store := new(mockHistoryStore)

	router := newTestRouter(NewHistoryHandler(store, testLogger()), userActor())
	rec := doJSON(t, router, http.MethodGet, "/history/clients?success=maybe", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryExport_StreamsGzipNDJSON(t *testing.T) {
	store := new(mockHistoryStore)

	// Two pages: the first reports more data with a cursor, the second closes
	// the stream.
	first := store.On("List", mock.Anything, types.KindSubscriber, mock.MatchedBy(func(f types.DeliveryHistoryFilter) bool {
		return f.Cursor == ""
	})).Return([]*types.DeliveryRecord{historyRecord("h1"), historyRecord("h2")},
		types.PageInfo{HasMore: true, NextCursor: "h2", Count: 2}, nil)
	first.Once()
	store.On("List", mock.Anything, types.KindSubscriber, mock.MatchedBy(func(f types.DeliveryHistoryFilter) bool {
		return f.Cursor == "h2"
	})).Return([]*types.DeliveryRecord{historyRecord("h3")},
		types.PageInfo{HasMore: false, Count: 1}, nil)

	router := newTestRouter(NewHistoryHandler(store, testLogger()), userActor())
	rec := doJSON(t, router, http.MethodGet, "/history/subscribers/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "delivery-history.jsonl.gz")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gz.Close()

	var ids []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var row types.DeliveryRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		ids = append(ids, row.ID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"h1", "h2", "h3"}, ids)
}
