package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result is a sandbox run's output, relayed to the room unmodified.
type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Runner is the code-execution collaborator. Runs happen out-of-band of
// the sync layer; only the result flows back through the broadcaster.
type Runner interface {
	Execute(ctx context.Context, source string, languageID int, stdin string) (Result, error)
}

// HTTPRunner talks to the platform's execution sandbox service.
type HTTPRunner struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPRunner(baseURL string, timeout time.Duration) *HTTPRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRunner{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type executeRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

func (r *HTTPRunner) Execute(ctx context.Context, source string, languageID int, stdin string) (Result, error) {
	body, err := json.Marshal(executeRequest{
		SourceCode: source,
		LanguageID: languageID,
		Stdin:      stdin,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("sandbox response decode failed: %w", err)
	}
	return result, nil
}
