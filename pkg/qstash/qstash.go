package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSignature = errors.New("qstash: missing signature")
	ErrInvalidSignature = errors.New("qstash: invalid signature")
)

const (
	// SignatureHeader carries the JWT QStash signs every delivery with.
	SignatureHeader = "Upstash-Signature"

	signatureIssuer = "Upstash"
	maxResponseSize = 1 << 20
)

type Config struct {
	URL               string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token             string        `split_words:"true" required:"true"`
	CurrentSigningKey string        `split_words:"true" required:"true"`
	NextSigningKey    string        `split_words:"true" required:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	httpClient        *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// VerifySignature checks a delivery signed by QStash: an HS256 JWT issued by
// Upstash for destination, carrying the SHA-256 of body. The current signing
// key is tried first, then the next one, so key rotation never drops a
// delivery.
func (c *Client) VerifySignature(signature string, body []byte, destination string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	var errs []error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		err := verifyWithKey(signature, key, body, destination)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no signing key configured", ErrInvalidSignature)
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, errors.Join(errs...))
}

func verifyWithKey(signature, key string, body []byte, destination string) error {
	claims := &signatureClaims{}
	_, err := jwt.ParseWithClaims(signature, claims,
		func(*jwt.Token) (any, error) { return []byte(key), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	)
	if err != nil {
		return err
	}

	if destination != "" && claims.Subject != destination {
		return fmt.Errorf("subject %q does not match %q", claims.Subject, destination)
	}
	sum := sha256.Sum256(body)
	if strings.TrimRight(claims.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return errors.New("body hash mismatch")
	}
	return nil
}

type scheduleResponse struct {
	ScheduleID string `json:"scheduleId"`
	Error      string `json:"error"`
}

// Schedule registers a cron schedule that POSTs body to destination and
// returns the schedule id.
func (c *Client) Schedule(ctx context.Context, destination, cron string, body []byte) (string, error) {
	destination = strings.TrimSpace(destination)
	if _, err := url.ParseRequestURI(destination); err != nil {
		return "", fmt.Errorf("qstash: invalid destination: %w", err)
	}
	cron = strings.TrimSpace(cron)
	if cron == "" {
		return "", errors.New("qstash: cron expression is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/schedules/"+destination, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Cron", cron)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qstash: schedule request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("qstash: read schedule response: %w", err)
	}

	var out scheduleResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("qstash: schedule failed with status %d: %s", resp.StatusCode, msg)
	}
	if out.ScheduleID == "" {
		return "", errors.New("qstash: schedule response has no id")
	}
	return out.ScheduleID, nil
}
