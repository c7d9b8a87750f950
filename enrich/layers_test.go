package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/bulkexport/batch"
)

func TestNewLayersClient_EmptyURL(t *testing.T) {
	c, err := NewLayersClient("  ")
	require.ErrorIs(t, err, ErrNoEndpoint)
	assert.Nil(t, c)
}

func TestLayersClient_Sample(t *testing.T) {
	var gotFids, gotPoints string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, samplePath, r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotFids = r.PostForm.Get("fids")
		gotPoints = r.PostForm.Get("points")
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("latitude,longitude,el1,cl2\n-35,140.5,12.3,\"Grassland, open\"\n-30,150,,\n"))
	}))
	defer srv.Close()

	c, err := NewLayersClient(srv.URL + "/")
	require.NoError(t, err)
	rows, err := c.Sample(context.Background(), []string{"el1", "cl2"},
		[]batch.Point{{Lon: 140.5, Lat: -35}, {Lon: 150, Lat: -30}})
	require.NoError(t, err)

	assert.Equal(t, "el1,cl2", gotFids)
	// latitude goes first on the wire
	assert.Equal(t, "-35,140.5,-30,150", gotPoints)
	assert.Equal(t, [][]string{
		{"latitude", "longitude", "el1", "cl2"},
		{"-35", "140.5", "12.3", "Grassland, open"},
		{"-30", "150", "", ""},
	}, rows)
}

func TestLayersClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int64
	}{
		{name: "server error then success", statuses: []int{http.StatusBadGateway, http.StatusOK}, wantCalls: 2},
		{name: "throttled then success", statuses: []int{http.StatusTooManyRequests, http.StatusOK}, wantCalls: 2},
		{name: "client error is not retried", statuses: []int{http.StatusBadRequest, http.StatusOK}, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[len(tt.statuses)-1]
				if int(n) <= len(tt.statuses) {
					status = tt.statuses[n-1]
				}
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte("latitude,longitude,el1\n1,2,3\n"))
				}
			}))
			defer srv.Close()

			c, err := NewLayersClient(srv.URL, WithInitialBackoff(time.Millisecond), WithMaxElapsed(2*time.Second))
			require.NoError(t, err)
			rows, err := c.Sample(context.Background(), []string{"el1"}, []batch.Point{{Lon: 1, Lat: 2}})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnexpectedStatus)
			} else {
				require.NoError(t, err)
				assert.Len(t, rows, 2)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestLayersClient_NoRetriesWhenDisabled(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewLayersClient(srv.URL, WithMaxElapsed(0))
	require.NoError(t, err)
	_, err = c.Sample(context.Background(), []string{"el1"}, []batch.Point{{Lon: 1, Lat: 2}})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int64(1), calls.Load())
}

func TestLayersClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewLayersClient(srv.URL, WithInitialBackoff(50*time.Millisecond), WithMaxElapsed(time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Sample(ctx, []string{"el1"}, []batch.Point{{Lon: 1, Lat: 2}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEncodePoints_LatitudeFirst(t *testing.T) {
	assert.Equal(t, "", encodePoints(nil))
	assert.Equal(t, "-35.25,149.125", encodePoints([]batch.Point{{Lon: 149.125, Lat: -35.25}}))
	assert.Equal(t, "1,2,3,4", encodePoints([]batch.Point{{Lon: 2, Lat: 1}, {Lon: 4, Lat: 3}}))
	assert.False(t, strings.Contains(encodePoints([]batch.Point{{Lon: 1e-7, Lat: 1}}), "e"))
}
