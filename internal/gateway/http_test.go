package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusErrorTransient(t *testing.T) {
	require.True(t, (&StatusError{StatusCode: http.StatusTooManyRequests}).Transient())
	require.True(t, (&StatusError{StatusCode: http.StatusBadGateway}).Transient())
	require.False(t, (&StatusError{StatusCode: http.StatusNotFound}).Transient())
	require.False(t, (&StatusError{StatusCode: http.StatusGone}).Transient())
}

func TestFetchContentReturnsBodyAndStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("hello"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{PerHostRPS: 1000, Burst: 1000})

	body, _, err := c.FetchContent(context.Background(), srv.URL+"/ok", nil)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))

	_, _, err = c.FetchContent(context.Background(), srv.URL+"/missing", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.False(t, statusErr.Transient())
}

func TestFetchContentEnforcesBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{MaxBodySize: 1024, PerHostRPS: 1000, Burst: 1000})
	body, _, err := c.FetchContent(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Len(t, body, 1024)
}

func TestHeadAllowsListedStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{PerHostRPS: 1000, Burst: 1000})

	_, err := c.Head(context.Background(), srv.URL, nil)
	require.Error(t, err)

	resp, err := c.Head(context.Background(), srv.URL, nil, http.StatusMethodNotAllowed)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
