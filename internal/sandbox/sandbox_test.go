package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRoundTrip(t *testing.T) {
	var got executeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(Result{Stdout: "1\n", Stderr: ""})
	}))
	defer server.Close()

	runner := NewHTTPRunner(server.URL, time.Second)
	result, err := runner.Execute(context.Background(), "print(1)", 71, "input")

	require.NoError(t, err)
	assert.Equal(t, "1\n", result.Stdout)
	assert.Equal(t, "print(1)", got.SourceCode)
	assert.Equal(t, 71, got.LanguageID)
	assert.Equal(t, "input", got.Stdin)
}

func TestExecuteNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	runner := NewHTTPRunner(server.URL, time.Second)
	_, err := runner.Execute(context.Background(), "x", 1, "")

	assert.Error(t, err)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client gives up; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	runner := NewHTTPRunner(server.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := runner.Execute(ctx, "x", 1, "")
	assert.Error(t, err)
}
