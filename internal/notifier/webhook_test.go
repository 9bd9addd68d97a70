package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{WebhookURL: srv.URL, Client: srv.Client()}

	require.NoError(t, n.Notify("transfer completed"))
	assert.Equal(t, map[string]string{"content": "transfer completed"}, got)
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	n := &WebhookNotifier{WebhookURL: srv.URL, Client: srv.Client()}

	err := n.Notify("ignored")
	assert.ErrorContains(t, err, "403")
}

func TestWebhookNotifier_MissingURL(t *testing.T) {
	n := &WebhookNotifier{}

	assert.Error(t, n.Notify("nowhere to go"))
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify("dropped on the floor"))
}
