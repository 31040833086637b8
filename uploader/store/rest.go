package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// pgUniqueViolation is the SQLSTATE code the REST gateway reports when an
// insert hits a uniqueness constraint.
const pgUniqueViolation = "23505"

// RESTStore talks to a PostgREST-style gateway (one HTTP call per store
// operation, no joins).
type RESTStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logrus.FieldLogger
}

// NewRESTStore creates a store client for the gateway at baseURL,
// authenticating with apiKey. A non-positive timeout defaults to 30s.
func NewRESTStore(baseURL, apiKey string, timeout time.Duration) *RESTStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     logrus.WithField("component", "rest-store"),
	}
}

// restError is the JSON error envelope returned by the gateway.
type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (s *RESTStore) collectionURL(collection string) string {
	return s.baseURL + "/rest/v1/" + collection
}

// filterValue renders a filter operand in query-string form.
func filterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case float32:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func applyFilters(q url.Values, filters []Filter) error {
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			q.Add(f.Column, "eq."+filterValue(f.Value))
		case OpNeq:
			q.Add(f.Column, "neq."+filterValue(f.Value))
		case OpIsNull:
			q.Add(f.Column, "is.null")
		case OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return fmt.Errorf("in filter on %s requires a value list", f.Column)
			}
			parts := make([]string, len(values))
			for i, v := range values {
				if sv, ok := v.(string); ok {
					parts[i] = `"` + sv + `"`
				} else {
					parts[i] = filterValue(v)
				}
			}
			q.Add(f.Column, "in.("+strings.Join(parts, ",")+")")
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return nil
}

func (s *RESTStore) do(ctx context.Context, method, rawURL string, body any, prefer string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read store response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var re restError
		_ = json.Unmarshal(respBody, &re)
		err := fmt.Errorf("store returned %d: %s %s", resp.StatusCode, re.Code, re.Message)
		if resp.StatusCode == http.StatusConflict || re.Code == pgUniqueViolation {
			return nil, &ConflictError{Err: err}
		}
		return nil, err
	}

	return respBody, nil
}

// Select implements Store.
func (s *RESTStore) Select(ctx context.Context, collection string, columns []string, filters []Filter) ([]Row, error) {
	q := url.Values{}
	if len(columns) > 0 {
		q.Set("select", strings.Join(columns, ","))
	}
	if err := applyFilters(q, filters); err != nil {
		return nil, err
	}

	body, err := s.do(ctx, http.MethodGet, s.collectionURL(collection)+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("select %s: malformed response: %w", collection, err)
	}
	return rows, nil
}

// Insert implements Store. The gateway assigns ids and returns the rows.
func (s *RESTStore) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	body, err := s.do(ctx, http.MethodPost, s.collectionURL(collection), rows, "return=representation")
	if err != nil {
		if IsConflict(err) {
			return nil, &ConflictError{Collection: collection, Err: err}
		}
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}

	var inserted []Row
	if err := json.Unmarshal(body, &inserted); err != nil {
		return nil, fmt.Errorf("insert %s: malformed response: %w", collection, err)
	}
	return inserted, nil
}

// Update implements Store.
func (s *RESTStore) Update(ctx context.Context, collection string, values Row, filters []Filter) error {
	q := url.Values{}
	if err := applyFilters(q, filters); err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodPatch, s.collectionURL(collection)+"?"+q.Encode(), values, "return=minimal"); err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	return nil
}

// Delete implements Store.
func (s *RESTStore) Delete(ctx context.Context, collection string, filters []Filter) error {
	q := url.Values{}
	if err := applyFilters(q, filters); err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodDelete, s.collectionURL(collection)+"?"+q.Encode(), nil, ""); err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}

// UpsertMany implements Store using the gateway's merge-duplicates mode
// keyed on the conflict columns.
func (s *RESTStore) UpsertMany(ctx context.Context, collection string, rows []Row, conflictColumns []string) error {
	if len(rows) == 0 {
		return nil
	}
	q := url.Values{}
	q.Set("on_conflict", strings.Join(conflictColumns, ","))
	rawURL := s.collectionURL(collection) + "?" + q.Encode()
	if _, err := s.do(ctx, http.MethodPost, rawURL, rows, "resolution=merge-duplicates,return=minimal"); err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	s.log.WithField("count", len(rows)).Debug("Upserted rows")
	return nil
}
