package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/grantwell/flow"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/internal/testhelpers"
)

func newDeviceFlow(t *testing.T, mock *testhelpers.MockAuthServer) *flow.DeviceCode {
	t.Helper()

	svc := flow.NewService(mockConfig(mock), flow.StaticHTTPClient(mock.Client()), flow.WithTokenCache(newTokenCache(t)))
	return flow.NewDeviceCode(svc)
}

func TestDeviceCode_ApprovedAfterPolls(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1
	mock.PendingPolls = 2
	mock.RefreshToken = "device-refresh"

	var prompted *flow.DeviceAuthorization
	prompt := func(ctx context.Context, auth flow.DeviceAuthorization) error {
		prompted = &auth
		return nil
	}

	result := newDeviceFlow(t, mock).Acquire(context.Background(), grant.DefaultOptions(), prompt)
	require.True(t, result.Succeeded(), "acquire failed: %s", result.Message())

	require.NotNil(t, prompted, "user prompt must be invoked")
	assert.Equal(t, "WDJB-MJHT", prompted.UserCode)
	assert.NotEmpty(t, prompted.VerificationURI)

	assert.Equal(t, "test-access-token", result.Value().AccessToken())
	assert.Equal(t, "device-refresh", result.Value().RefreshToken())

	// two pending responses plus the final success
	assert.Equal(t, 3, mock.TokenRequests)
	assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", mock.LastTokenForm["grant_type"])
	assert.Equal(t, "test-device-code", mock.LastTokenForm["device_code"])
}

func TestDeviceCode_ExpiryStopsPolling(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.DeviceExpiresIn = 1
	mock.Interval = 10 // issuer interval longer than the code lifetime
	mock.PendingPolls = 1000

	start := time.Now()
	result := newDeviceFlow(t, mock).Acquire(context.Background(), grant.DefaultOptions(), nil)
	elapsed := time.Since(start)

	require.False(t, result.Succeeded())
	assert.ErrorIs(t, result.Err(), flow.ErrDeviceAuthExpired)
	assert.Less(t, elapsed, 5*time.Second, "poll loop must stop when the device code expires")
}

func TestDeviceCode_Denied(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1
	mock.ErrorCode = "access_denied"

	result := newDeviceFlow(t, mock).Acquire(context.Background(), grant.DefaultOptions(), nil)
	require.False(t, result.Succeeded())
	assert.ErrorIs(t, result.Err(), flow.ErrDeviceAuthDenied)
	assert.NotErrorIs(t, result.Err(), flow.ErrDeviceAuthExpired)
}

func TestDeviceCode_IssuerReportsExpiry(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1
	mock.ErrorCode = "expired_token"

	result := newDeviceFlow(t, mock).Acquire(context.Background(), grant.DefaultOptions(), nil)
	require.False(t, result.Succeeded())
	assert.ErrorIs(t, result.Err(), flow.ErrDeviceAuthExpired)
}

func TestDeviceCode_CancelMidPoll(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1
	mock.PendingPolls = 1000

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := newDeviceFlow(t, mock).Acquire(ctx, grant.DefaultOptions(), nil)

	require.False(t, result.Succeeded())
	assert.True(t, result.Cancelled())
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must interrupt the poll wait")
}

func TestDeviceCode_PromptAbortsFlow(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1

	prompt := func(ctx context.Context, auth flow.DeviceAuthorization) error {
		return context.Canceled
	}

	result := newDeviceFlow(t, mock).Acquire(context.Background(), grant.DefaultOptions(), prompt)
	require.False(t, result.Succeeded())
	assert.Equal(t, 0, mock.TokenRequests, "no polling after an aborted prompt")
}

func TestDeviceCode_SilentFailsWithoutInteraction(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)

	options := grant.DefaultOptions()
	options.Silent = true

	result := newDeviceFlow(t, mock).Acquire(context.Background(), options, nil)
	require.False(t, result.Succeeded())
	assert.Equal(t, 0, mock.DeviceRequests)
	assert.Contains(t, result.Message(), "silent")
}

func TestDeviceCode_CachedGrantSkipsInteraction(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockAuthServer(t, nil)
	mock.Interval = 1

	dc := newDeviceFlow(t, mock)

	require.True(t, dc.Acquire(context.Background(), grant.DefaultOptions(), nil).Succeeded())
	require.Equal(t, 1, mock.DeviceRequests)

	second := dc.Acquire(context.Background(), grant.DefaultOptions(), nil)
	require.True(t, second.Succeeded())
	assert.Equal(t, 1, mock.DeviceRequests, "cached grant must not restart the device flow")
}
