package scorer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPClient calls a remote scorer service over JSON/HTTP. One instance per
// scorer service; the scorer name is used in error reporting.
type HTTPClient struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient returns a client for the scorer service at baseURL. timeout
// bounds every call; zero uses the default.
func NewHTTPClient(name, baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		Name:       name,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// post sends the request body to path and decodes the response into out,
// mapping transport failures to the typed scorer errors.
func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &Error{Scorer: c.Name, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return &Error{Scorer: c.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return &Error{Scorer: c.Name, Err: ErrTimeout}
		}
		return &Error{Scorer: c.Name, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{Scorer: c.Name, Err: fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Scorer: c.Name, Err: fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)}
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// HTTPIdentityScorer implements IdentityScorer against a remote service.
type HTTPIdentityScorer struct {
	*HTTPClient
}

// NewHTTPIdentityScorer returns an identity scorer client for baseURL.
func NewHTTPIdentityScorer(baseURL string, timeout time.Duration) *HTTPIdentityScorer {
	return &HTTPIdentityScorer{HTTPClient: NewHTTPClient("identity", baseURL, timeout)}
}

// ExtractEmbedding sends the audio and returns the speaker embedding.
func (s *HTTPIdentityScorer) ExtractEmbedding(ctx context.Context, audio []byte) ([]float64, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	req := map[string]string{"audio": base64.StdEncoding.EncodeToString(audio)}
	if err := s.post(ctx, "/v1/embedding", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// Similarity compares two embeddings and returns a score in [0,1].
func (s *HTTPIdentityScorer) Similarity(ctx context.Context, a, b []float64) (float64, error) {
	var resp struct {
		Similarity float64 `json:"similarity"`
	}
	req := map[string][]float64{"a": a, "b": b}
	if err := s.post(ctx, "/v1/similarity", req, &resp); err != nil {
		return 0, err
	}
	return resp.Similarity, nil
}

// HTTPAntispoofScorer implements AntispoofScorer against a remote service.
type HTTPAntispoofScorer struct {
	*HTTPClient
}

// NewHTTPAntispoofScorer returns an antispoof scorer client for baseURL.
func NewHTTPAntispoofScorer(baseURL string, timeout time.Duration) *HTTPAntispoofScorer {
	return &HTTPAntispoofScorer{HTTPClient: NewHTTPClient("antispoof", baseURL, timeout)}
}

// DetectSpoof returns the probability that the audio is spoofed.
func (s *HTTPAntispoofScorer) DetectSpoof(ctx context.Context, audio []byte) (float64, error) {
	var resp struct {
		SpoofProbability float64 `json:"spoof_probability"`
	}
	req := map[string]string{"audio": base64.StdEncoding.EncodeToString(audio)}
	if err := s.post(ctx, "/v1/spoof", req, &resp); err != nil {
		return 0, err
	}
	return resp.SpoofProbability, nil
}

// HTTPTextScorer implements TextScorer against a remote service.
type HTTPTextScorer struct {
	*HTTPClient
}

// NewHTTPTextScorer returns a text scorer client for baseURL.
func NewHTTPTextScorer(baseURL string, timeout time.Duration) *HTTPTextScorer {
	return &HTTPTextScorer{HTTPClient: NewHTTPClient("text", baseURL, timeout)}
}

// VerifyPhrase checks the audio against the expected phrase text.
func (s *HTTPTextScorer) VerifyPhrase(ctx context.Context, audio []byte, expectedText string) (PhraseResult, error) {
	var resp struct {
		PhraseMatches bool    `json:"phrase_matches"`
		Similarity    float64 `json:"similarity"`
	}
	req := map[string]string{
		"audio":         base64.StdEncoding.EncodeToString(audio),
		"expected_text": expectedText,
	}
	if err := s.post(ctx, "/v1/phrase", req, &resp); err != nil {
		return PhraseResult{}, err
	}
	return PhraseResult{Matches: resp.PhraseMatches, Similarity: resp.Similarity}, nil
}
