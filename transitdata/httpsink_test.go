package transitdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPushProviderSendsJSON(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPushProvider(map[string]string{"Authorization": "Bearer test"})
	err := p.Send(context.Background(), srv.URL, map[string]string{"hello": "world"}, PushOptions{
		Timeout:         2 * time.Second,
		MaxResponseSize: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test", gotAuth)
}

func TestHTTPPushProviderEndpointGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	p := NewHTTPPushProvider(nil)
	err := p.Send(context.Background(), srv.URL, map[string]string{}, PushOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrEndpointGone)
}
