package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zodiac/internal/platform/logger"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/circuit"
	"zodiac/pkg/requestcontext"
)

func newPreparer(t *testing.T, handler http.HandlerFunc, opts ...HTTPOption) (*HTTPPreparer, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	opts = append([]HTTPOption{WithHTTPLogger(logger.Discard())}, opts...)
	return NewHTTPPreparer(srv.URL+"/", time.Second, opts...), &hits
}

func TestHTTPPreparer_PostsDeliveryRequest(t *testing.T) {
	now := time.Date(2024, 3, 10, 6, 39, 0, 0, time.UTC)
	var got deliveryRequest
	var gotPath, gotRequestID string
	p, hits := newPreparer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "run-1")
	err := p.DeliverToday(ctx, 42)

	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "/v1/deliveries", gotPath)
	assert.Equal(t, "run-1", gotRequestID)
	assert.EqualValues(t, 42, got.ParticipantID)
	assert.True(t, now.Equal(got.RequestedAt))
}

func TestHTTPPreparer_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   dErrors.Code
	}{
		{name: "unknown participant", status: http.StatusNotFound, code: dErrors.CodeNotFound},
		{name: "rejected", status: http.StatusUnprocessableEntity, code: dErrors.CodeBadRequest},
		{name: "server error", status: http.StatusBadGateway, code: dErrors.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPreparer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := p.DeliverToday(context.Background(), 42)

			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestHTTPPreparer_BreakerStopsCallsAfterFailures(t *testing.T) {
	breaker := circuit.New("content", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	p, hits := newPreparer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(breaker))

	for range 2 {
		require.Error(t, p.DeliverToday(context.Background(), 42))
	}
	err := p.DeliverToday(context.Background(), 42)

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must short-circuit")
	assert.True(t, breaker.IsOpen())
}

func TestHTTPPreparer_NotFoundDoesNotTripBreaker(t *testing.T) {
	breaker := circuit.New("content", circuit.WithFailureThreshold(1))
	p, _ := newPreparer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithBreaker(breaker))

	_ = p.DeliverToday(context.Background(), 42)

	assert.False(t, breaker.IsOpen())
}

func TestHTTPPreparer_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p := NewHTTPPreparer(url, time.Second, WithHTTPLogger(logger.Discard()))

	err := p.DeliverToday(context.Background(), 42)

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
