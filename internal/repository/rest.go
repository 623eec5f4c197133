package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/model"
)

const (
	restPathPrefix = "/rest/v1"

	slotColumn = "text_number"

	preferMergeDuplicates = "resolution=merge-duplicates"
)

// RESTTextRepository talks to a PostgREST endpoint (as exposed by Supabase)
// over a single table.
type RESTTextRepository struct { // implements TextRepository, Upserter
	client   *http.Client
	endpoint string
	key      string
}

func NewRESTTextRepository(baseURL, key, table string, timeout time.Duration) *RESTTextRepository {
	return &RESTTextRepository{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(baseURL, "/") + restPathPrefix + "/" + table,
		key:      key,
	}
}

func slotFilter(slot model.Slot) string {
	return fmt.Sprintf("%s=eq.%d", slotColumn, slot)
}

func (r *RESTTextRepository) ListAll(ctx context.Context) ([]model.TextRecord, error) {
	var records []model.TextRecord
	raw, err := r.do(ctx, "list", http.MethodGet, "select=*&order="+slotColumn, nil, nil)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 || raw[0] != '[' {
		return nil, &TransportError{Op: "list", Method: http.MethodGet, URL: r.endpoint, Err: errors.New("expected a JSON array")}
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &TransportError{Op: "list", Method: http.MethodGet, URL: r.endpoint, Err: fmt.Errorf("error decoding records: %w", err)}
	}

	repoLogger.Debug().Int("count", len(records)).Msg("Texts listed")
	return records, nil
}

func (r *RESTTextRepository) Insert(ctx context.Context, rec model.TextRecord) error {
	_, err := r.do(ctx, "insert", http.MethodPost, "", rec, nil)
	return err
}

func (r *RESTTextRepository) Upsert(ctx context.Context, rec model.TextRecord) error {
	headers := map[string]string{config.HPrefer: preferMergeDuplicates}
	_, err := r.do(ctx, "upsert", http.MethodPost, "on_conflict="+slotColumn, rec, headers)
	return err
}

func (r *RESTTextRepository) Update(ctx context.Context, slot model.Slot, patch model.TextPatch) error {
	_, err := r.do(ctx, "update", http.MethodPatch, slotFilter(slot), patch, nil)
	return err
}

func (r *RESTTextRepository) Delete(ctx context.Context, slot model.Slot) error {
	_, err := r.do(ctx, "delete", http.MethodDelete, slotFilter(slot), nil, nil)
	return err
}

// do sends one request and returns the trimmed response body. An empty body
// stands for an empty result object.
func (r *RESTTextRepository) do(ctx context.Context, op, method, query string, body any, headers map[string]string) ([]byte, error) {
	url := r.endpoint
	if query != "" {
		url += "?" + query
	}
	fail := func(status int, respBody string, err error) error {
		return &TransportError{Op: op, Method: method, URL: url, StatusCode: status, Body: respBody, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fail(0, "", fmt.Errorf("error encoding body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fail(0, "", err)
	}
	req.Header.Set(config.HCType, config.CTypeJSON)
	req.Header.Set(config.HAPIKey, r.key)
	req.Header.Set(config.HAuthorization, "Bearer "+r.key)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		repoLogger.Error().Err(err).Str("op", op).Str("url", url).Msg("Request failed")
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, "", fmt.Errorf("error reading body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		repoLogger.Warn().
			Str("op", op).
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("Backend rejected request")
		return nil, fail(resp.StatusCode, string(raw), nil)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, fail(resp.StatusCode, string(raw), errors.New("malformed JSON response"))
	}

	repoLogger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("Request completed")
	return raw, nil
}
