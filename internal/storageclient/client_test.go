package storageclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteImages_SuccessAnd404BothCountAsDone(t *testing.T) {
	var deletedPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		deletedPaths = append(deletedPaths, r.URL.Path)
		if r.URL.Path == "/api/images/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := New(server.URL, "test-token", 0)
	require.NoError(t, err)

	err = client.DeleteImages(context.Background(), []string{
		server.URL + "/api/images/present.jpg",
		server.URL + "/images/missing.jpg",
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/api/images/present.jpg", "/api/images/missing.jpg"}, deletedPaths)
}

func TestDeleteImages_CrossOriginURLsAreSkipped(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := New(server.URL, "test-token", 0)
	require.NoError(t, err)

	err = client.DeleteImages(context.Background(), []string{"https://attacker.example/api/images/evil.jpg"})
	require.NoError(t, err)
	require.False(t, called)
}

func TestDeleteImages_TraversalNamesAreSkipped(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := New(server.URL, "test-token", 0)
	require.NoError(t, err)

	err = client.DeleteImages(context.Background(), []string{
		server.URL + "/api/images/../secrets.json",
	})
	require.NoError(t, err)
	require.False(t, called)
}

func TestDeleteImages_FailOnErrorPropagatesAggregatedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(server.URL, "test-token", 0)
	require.NoError(t, err)
	client.FailOnError = true

	err = client.DeleteImages(context.Background(), []string{server.URL + "/api/images/broken.jpg"})
	require.Error(t, err)
}

func TestDeleteImages_WithoutFailOnErrorSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(server.URL, "test-token", 0)
	require.NoError(t, err)

	err = client.DeleteImages(context.Background(), []string{server.URL + "/api/images/broken.jpg"})
	require.NoError(t, err)
}

func TestNew_RejectsInvalidBaseURLAndEmptyToken(t *testing.T) {
	_, err := New("not-a-url", "token", 0)
	require.Error(t, err)

	_, err = New("http://example.com", "", 0)
	require.Error(t, err)
}
