package faceoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"facetrack/internal/metrics"
)

// Errors surfaced by the client after its retry budget is spent. Business
// outcomes (no match, not a duplicate) are not errors.
var (
	// ErrServiceTimeout means the call exceeded its deadline; the remote side
	// may or may not have processed the request.
	ErrServiceTimeout = errors.New("face service timed out")
	// ErrServiceUnavailable means connection failures or 5xx responses
	// exhausted the retry budget.
	ErrServiceUnavailable = errors.New("face service unavailable")
)

// ClientError is a 4xx rejection from the face service. Never retried.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("face service rejected request (%d): %s", e.Status, e.Message)
}

// StoredEmbedding is one enrolled profile sent for matching.
type StoredEmbedding struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

// EmbedResult is the embedding produced for a probe image.
type EmbedResult struct {
	Embedding []float32
	Quality   float64
	Thumbnail string
}

// MatchResult is the outcome of matching a probe against stored embeddings.
// Confidence and BestScore are fractions in [0,1].
type MatchResult struct {
	Matched    bool
	UserID     string
	Name       string
	Confidence float64
	BestScore  float64
	Live       bool
}

// DuplicateResult is the outcome of a duplicate check before enrollment.
type DuplicateResult struct {
	IsDuplicate  bool
	ExistingName string
	Similarity   float64
}

// Client calls the face recognition scoring service.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	Skip      bool

	// sleep is replaced in tests to avoid real delays.
	sleep func(time.Duration)
}

// New creates a client. Each call gets its own deadline of timeout; transient
// failures are retried up to retries times with a fixed retryWait delay.
func New(baseURL string, timeout time.Duration, retries int, retryWait time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		BaseURL:   baseURL,
		HTTP:      &http.Client{},
		Timeout:   timeout,
		Retries:   retries,
		RetryWait: retryWait,
		Skip:      skip,
		sleep:     time.Sleep,
	}
}

// Embed requests an embedding, quality score, and face thumbnail for a probe.
func (c *Client) Embed(ctx context.Context, image string) (*EmbedResult, error) {
	if c.Skip {
		return &EmbedResult{Embedding: mockEmbedding(), Quality: 0.85, Thumbnail: ""}, nil
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
		Quality   struct {
			Sharpness float64 `json:"sharpness"`
		} `json:"quality"`
		Thumbnail string `json:"thumbnail"`
	}
	err := c.call(ctx, "/embed", map[string]any{"image": image}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, &ClientError{Status: http.StatusBadRequest, Message: "no face detected in the image"}
	}
	return &EmbedResult{
		Embedding: out.Embedding,
		Quality:   out.Quality.Sharpness,
		Thumbnail: out.Thumbnail,
	}, nil
}

// Match scores a probe against stored embeddings. threshold is a fraction in
// [0,1]; the service reports confidence as a 0-100 percentage, converted to a
// fraction here so one canonical scale flows through the rest of the system.
func (c *Client) Match(ctx context.Context, image string, stored []StoredEmbedding, threshold float64) (*MatchResult, error) {
	if c.Skip {
		if len(stored) == 0 {
			return &MatchResult{Matched: false}, nil
		}
		first := stored[0]
		return &MatchResult{Matched: true, UserID: first.UserID, Name: first.Name, Confidence: 0.92, BestScore: 0.92, Live: true}, nil
	}
	var out struct {
		Matched    bool    `json:"matched"`
		UserID     string  `json:"user_id"`
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		BestScore  float64 `json:"best_score"`
		Liveness   struct {
			IsLive bool `json:"is_live"`
		} `json:"liveness"`
	}
	err := c.call(ctx, "/match", map[string]any{
		"image":             image,
		"stored_embeddings": stored,
		"threshold":         threshold,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &MatchResult{
		Matched:    out.Matched,
		UserID:     out.UserID,
		Name:       out.Name,
		Confidence: out.Confidence / 100,
		BestScore:  out.BestScore / 100,
		Live:       out.Liveness.IsLive,
	}, nil
}

// DuplicateCheck reports whether the probe already belongs to an enrolled face.
func (c *Client) DuplicateCheck(ctx context.Context, image string, stored []StoredEmbedding, threshold float64) (*DuplicateResult, error) {
	if c.Skip {
		return &DuplicateResult{IsDuplicate: false}, nil
	}
	var out struct {
		IsDuplicate  bool    `json:"is_duplicate"`
		ExistingName string  `json:"existing_name"`
		Similarity   float64 `json:"similarity"`
	}
	err := c.call(ctx, "/duplicate-check", map[string]any{
		"image":             image,
		"stored_embeddings": stored,
		"threshold":         threshold,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &DuplicateResult{
		IsDuplicate:  out.IsDuplicate,
		ExistingName: out.ExistingName,
		Similarity:   out.Similarity / 100,
	}, nil
}

// Health checks if the face service is reachable. Not retried.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// call posts payload to path and decodes the response into out, retrying
// transient failures. 4xx responses are terminal.
func (c *Client) call(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			metrics.OracleRetriesTotal.WithLabelValues(path).Inc()
			if c.RetryWait > 0 {
				c.sleep(c.RetryWait)
			}
		}
		lastErr = c.once(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		var ce *ClientError
		if errors.As(lastErr, &ce) {
			return lastErr
		}
		if ctx.Err() != nil {
			// Caller's context is gone; retrying would be pointless.
			break
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, path string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s", ErrServiceTimeout, path)
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %s", ErrServiceUnavailable, path, resp.Status)
	}
	if resp.StatusCode >= 400 {
		msg := decodeErrorMessage(resp.Body)
		return &ClientError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var out struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &out); err == nil {
		if out.Detail != "" {
			return out.Detail
		}
		if out.Message != "" {
			return out.Message
		}
	}
	return string(raw)
}

func mockEmbedding() []float32 {
	emb := make([]float32, 128)
	for i := range emb {
		emb[i] = float32(i) / 128
	}
	return emb
}
