package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duepoint/internal/types"
)

// --- Mocks ---

type mockAccountStore struct {
	mock.Mock
}

func (m *mockAccountStore) GetByID(ctx context.Context, id string) (*types.Account, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*types.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTargetStore struct {
	mock.Mock
}

func (m *mockTargetStore) GetByID(ctx context.Context, kind types.TargetKind, accountID, id string) (*types.Target, error) {
	args := m.Called(ctx, kind, accountID, id)
	if t := args.Get(0); t != nil {
		return t.(*types.Target), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTemplateStore struct {
	mock.Mock
}

func (m *mockTemplateStore) GetByID(ctx context.Context, accountID, id string) (*types.MessageTemplate, error) {
	args := m.Called(ctx, accountID, id)
	if t := args.Get(0); t != nil {
		return t.(*types.MessageTemplate), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEndpointStore struct {
	mock.Mock
}

func (m *mockEndpointStore) GetActive(ctx context.Context, kind string) (*types.WebhookEndpoint, error) {
	args := m.Called(ctx, kind)
	if e := args.Get(0); e != nil {
		return e.(*types.WebhookEndpoint), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHistoryStore struct {
	mock.Mock
}

func (m *mockHistoryStore) Record(ctx context.Context, rec *types.DeliveryRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type mockQueueStore struct {
	mock.Mock
}

func (m *mockQueueStore) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockQueueStore) MarkRetrying(ctx context.Context, id string, reason string, nextRetryAt time.Time) error {
	args := m.Called(ctx, id, reason, nextRetryAt)
	return args.Error(0)
}

func (m *mockQueueStore) MarkFailed(ctx context.Context, id string, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Kind() string { return types.WebhookKindWhatsApp }

func (m *mockChannel) Deliver(ctx context.Context, msg *types.OutboundMessage, destination string) (*types.DeliveryResult, error) {
	args := m.Called(ctx, msg, destination)
	return args.Get(0).(*types.DeliveryResult), args.Error(1)
}

// noopLogger satisfies types.Logger without output.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) With(args ...any) types.Logger { return noopLogger{} }

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// --- Fixtures ---

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type dispatcherFixture struct {
	accounts  *mockAccountStore
	targets   *mockTargetStore
	templates *mockTemplateStore
	endpoints *mockEndpointStore
	history   *mockHistoryStore
	queue     *mockQueueStore
	channel   *mockChannel
	d         *Dispatcher
}

func newFixture() *dispatcherFixture {
	f := &dispatcherFixture{
		accounts:  new(mockAccountStore),
		targets:   new(mockTargetStore),
		templates: new(mockTemplateStore),
		endpoints: new(mockEndpointStore),
		history:   new(mockHistoryStore),
		queue:     new(mockQueueStore),
		channel:   new(mockChannel),
	}
	f.d = NewDispatcher(DispatcherConfig{
		Accounts:     f.accounts,
		Targets:      f.targets,
		Templates:    f.templates,
		Endpoints:    f.endpoints,
		History:      f.history,
		Queue:        f.queue,
		Channel:      f.channel,
		Logger:       noopLogger{},
		Clock:        fixedClock{now: testNow},
		MaxAttempts:  3,
		RetryBackoff: 5 * time.Minute,
	})
	return f
}

func notification(attempt int) *types.ScheduledNotification {
	return &types.ScheduledNotification{
		ID:           "notif_1",
		AccountID:    "acct_1",
		TargetID:     "client_1",
		TargetKind:   types.KindClient,
		AutomationID: "auto_1",
		TemplateID:   "tmpl_1",
		Status:       types.NotificationProcessing,
		AttemptCount: attempt,
	}
}

// setupResolutions wires the happy-path lookups up to the channel call.
func (f *dispatcherFixture) setupResolutions() {
	f.accounts.On("GetByID", mock.Anything, "acct_1").Return(&types.Account{
		ID:           "acct_1",
		InstanceName: "instance-1",
		PixKey:       "pix-key",
	}, nil)
	f.targets.On("GetByID", mock.Anything, types.KindClient, "acct_1", "client_1").Return(&types.Target{
		ID:          "client_1",
		Name:        "Ana",
		Phone:       "+5511999990000",
		AmountCents: 4990,
		DueDate:     time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
	}, nil)
	f.templates.On("GetByID", mock.Anything, "acct_1", "tmpl_1").Return(&types.MessageTemplate{
		ID:      "tmpl_1",
		Content: "Olá {{customer_name}}, vence em {{due_date}}",
	}, nil)
	f.endpoints.On("GetActive", mock.Anything, types.WebhookKindWhatsApp).Return(&types.WebhookEndpoint{
		ID:   "ep_1",
		Kind: types.WebhookKindWhatsApp,
		URL:  "https://hooks.example.com/whatsapp",
	}, nil)
}

// --- Tests ---

func TestDispatch_SuccessWritesHistoryAndMarksSent(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	f.channel.On("Deliver", mock.Anything, mock.Anything, "https://hooks.example.com/whatsapp").
		Return(&types.DeliveryResult{
			RequestPayload: json.RawMessage(`{"body":[]}`),
			StatusCode:     200,
			ResponseBody:   json.RawMessage(`{"ok":true}`),
		}, nil)

	var rec *types.DeliveryRecord
	f.history.On("Record", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { rec = args.Get(1).(*types.DeliveryRecord) }).
		Return(nil)
	f.queue.On("MarkSent", mock.Anything, "notif_1").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.NoError(t, err)

	f.history.AssertNumberOfCalls(t, "Record", 1)
	require.NotNil(t, rec)
	assert.True(t, rec.Success)
	assert.Equal(t, 200, rec.StatusCode)
	assert.Equal(t, "Ana", rec.TargetName)
	assert.Equal(t, "+5511999990000", rec.TargetPhone)
	assert.Equal(t, types.WebhookKindWhatsApp, rec.WebhookKind)
	f.queue.AssertExpectations(t)

	// The rendered text flowed into the outbound message.
	call := f.channel.Calls[0]
	msg := call.Arguments.Get(1).(*types.OutboundMessage)
	assert.Equal(t, "instance-1", msg.InstanceName)
	assert.Equal(t, "Olá Ana, vence em 20/06/2026", msg.Text)
}

func TestDispatch_RetryableFailureWritesHistoryAndParksRow(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	deliverErr := errors.New("upstream returned 503")
	f.channel.On("Deliver", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.DeliveryResult{
			RequestPayload: json.RawMessage(`{"body":[]}`),
			FailureReason:  "upstream returned 503",
			Retryable:      true,
		}, deliverErr)

	var rec *types.DeliveryRecord
	f.history.On("Record", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { rec = args.Get(1).(*types.DeliveryRecord) }).
		Return(nil)
	// First attempt retries after the base backoff.
	f.queue.On("MarkRetrying", mock.Anything, "notif_1", "upstream returned 503", testNow.Add(5*time.Minute)).Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.ErrorIs(t, err, deliverErr)

	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	f.queue.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_BackoffDoublesPerAttempt(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	f.channel.On("Deliver", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.DeliveryResult{FailureReason: "timeout", Retryable: true}, errors.New("timeout"))
	f.history.On("Record", mock.Anything, mock.Anything).Return(nil)
	// Second attempt: base 5m doubled once.
	f.queue.On("MarkRetrying", mock.Anything, "notif_1", "timeout", testNow.Add(10*time.Minute)).Return(nil)

	err := f.d.Dispatch(context.Background(), notification(2))
	require.Error(t, err)
	f.queue.AssertExpectations(t)
}

func TestDispatch_MaxAttemptsFailsPermanently(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	f.channel.On("Deliver", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.DeliveryResult{FailureReason: "timeout", Retryable: true}, errors.New("timeout"))
	f.history.On("Record", mock.Anything, mock.Anything).Return(nil)
	f.queue.On("MarkFailed", mock.Anything, "notif_1", "timeout").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(3))
	require.Error(t, err)
	f.queue.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "MarkRetrying", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_NonRetryableFailureFailsRow(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	f.channel.On("Deliver", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.DeliveryResult{
			StatusCode:    400,
			FailureReason: "webhook rejected request with status Bad Request",
			Retryable:     false,
		}, errors.New("rejected"))
	f.history.On("Record", mock.Anything, mock.Anything).Return(nil)
	f.queue.On("MarkFailed", mock.Anything, "notif_1", "webhook rejected request with status Bad Request").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.Error(t, err)
	f.queue.AssertExpectations(t)
}

func TestDispatch_TargetMissingFailsWithoutHistory(t *testing.T) {
	f := newFixture()
	f.accounts.On("GetByID", mock.Anything, "acct_1").Return(&types.Account{
		ID:           "acct_1",
		InstanceName: "instance-1",
	}, nil)
	f.targets.On("GetByID", mock.Anything, types.KindClient, "acct_1", "client_1").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundTarget, "target not found", nil))
	f.queue.On("MarkFailed", mock.Anything, "notif_1", "target not found").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.Error(t, err)

	// No request went out, so no audit row is written.
	f.history.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	f.channel.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
	f.queue.AssertExpectations(t)
}

func TestDispatch_NoInstanceFailsClosed(t *testing.T) {
	f := newFixture()
	f.accounts.On("GetByID", mock.Anything, "acct_1").Return(&types.Account{ID: "acct_1"}, nil)
	f.queue.On("MarkFailed", mock.Anything, "notif_1", "no instance configured").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.Error(t, err)

	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodePreconditionNoInstance, appErr.Code)
	f.history.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestDispatch_NoActiveEndpointParksForRetry(t *testing.T) {
	f := newFixture()
	f.accounts.On("GetByID", mock.Anything, "acct_1").Return(&types.Account{
		ID:           "acct_1",
		InstanceName: "instance-1",
	}, nil)
	f.targets.On("GetByID", mock.Anything, types.KindClient, "acct_1", "client_1").
		Return(&types.Target{ID: "client_1", Name: "Ana", Phone: "+5511999990000"}, nil)
	f.templates.On("GetByID", mock.Anything, "acct_1", "tmpl_1").
		Return(&types.MessageTemplate{ID: "tmpl_1", Content: "hi"}, nil)
	f.endpoints.On("GetActive", mock.Anything, types.WebhookKindWhatsApp).
		Return(nil, types.NewAppError(types.ErrCodePreconditionNoEndpoint, "no active endpoint", nil))

	var rec *types.DeliveryRecord
	f.history.On("Record", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { rec = args.Get(1).(*types.DeliveryRecord) }).
		Return(nil)
	f.queue.On("MarkRetrying", mock.Anything, "notif_1", "no active webhook endpoint", mock.Anything).Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.Error(t, err)

	// Endpoint configuration is systemic: the row retries instead of failing,
	// but the attempt still lands in history so the dashboard shows it.
	f.queue.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.Equal(t, 0, rec.StatusCode)
	assert.Equal(t, "Ana", rec.TargetName)
	f.channel.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_TemplateMissingRecordsFailure(t *testing.T) {
	f := newFixture()
	f.accounts.On("GetByID", mock.Anything, "acct_1").Return(&types.Account{
		ID:           "acct_1",
		InstanceName: "instance-1",
	}, nil)
	f.targets.On("GetByID", mock.Anything, types.KindClient, "acct_1", "client_1").
		Return(&types.Target{ID: "client_1", Name: "Ana", Phone: "+5511999990000"}, nil)
	f.templates.On("GetByID", mock.Anything, "acct_1", "tmpl_1").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil))

	var rec *types.DeliveryRecord
	f.history.On("Record", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { rec = args.Get(1).(*types.DeliveryRecord) }).
		Return(nil)
	f.queue.On("MarkFailed", mock.Anything, "notif_1", "template not found").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.Error(t, err)

	// The target exists, so the missing-template outcome is auditable: one
	// history row with the snapshot and no status code.
	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.Equal(t, 0, rec.StatusCode)
	assert.Equal(t, "Ana", rec.TargetName)
	assert.Equal(t, "+5511999990000", rec.TargetPhone)
	assert.JSONEq(t, `{"error":"template not found"}`, string(rec.ResponsePayload))
	f.queue.AssertExpectations(t)
	f.channel.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_HistoryWriteFailureStillResolvesRow(t *testing.T) {
	f := newFixture()
	f.setupResolutions()

	f.channel.On("Deliver", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.DeliveryResult{StatusCode: 200}, nil)
	f.history.On("Record", mock.Anything, mock.Anything).Return(errors.New("history table down"))
	f.queue.On("MarkSent", mock.Anything, "notif_1").Return(nil)

	err := f.d.Dispatch(context.Background(), notification(1))
	require.NoError(t, err)
	f.queue.AssertExpectations(t)
}
