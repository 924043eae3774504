// Package opensearch stores lifecycle events as documents in an OpenSearch
// (or Elasticsearch) index over its REST API.
package opensearch

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

	"github.com/google/uuid"

	"github.com/loykin/realm/internal/history"
)

// docNamespace seeds the deterministic document ids.
var docNamespace = uuid.MustParse("6f1c1f0e-9a7b-4a53-9f53-1f3d2c4b7a10")

// Sink indexes one document per event. Document ids are derived from the
// event, so a retried Send overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// doc is the indexed form of an event, flattened for dashboards.
type doc struct {
	Timestamp time.Time  `json:"@timestamp"`
	Event     string     `json:"event"`
	Process   string     `json:"process"`
	PID       int        `json:"pid"`
	Port      uint16     `json:"port,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	ExitErr   string     `json:"exit_error,omitempty"`
	Spec      string     `json:"spec,omitempty"`
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(toDoc(e))
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.index), docID(e))
	resp, err := s.do(ctx, http.MethodPut, u, b)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch index %s: status %d", s.index, resp.StatusCode)
	}
	return nil
}

// Recent implements history.Reader with a sorted search. A missing index
// yields no events.
func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := map[string]any{"match_all": map[string]any{}}
	if name != "" {
		query = map[string]any{"match_phrase": map[string]any{"process": name}}
	}
	b, err := json.Marshal(map[string]any{
		"size":  limit,
		"sort":  []any{map[string]any{"@timestamp": map[string]string{"order": "desc"}}},
		"query": query,
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s/_search", s.baseURL, url.PathEscape(s.index)), b)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("opensearch search %s: status %d: %s", s.index, resp.StatusCode, bytes.TrimSpace(body))
	}

	var res struct {
		Hits struct {
			Hits []struct {
				Source doc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("opensearch search %s: %w", s.index, err)
	}
	var out []history.Event
	for _, h := range res.Hits.Hits {
		// match_phrase also hits names that merely contain the phrase
		if name != "" && h.Source.Process != name {
			continue
		}
		out = append(out, fromDoc(h.Source))
	}
	return out, nil
}

func (s *Sink) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}

func docID(e history.Event) string {
	key := fmt.Sprintf("%s|%s|%d|%d", e.Record.Name, e.Type, e.Record.PID, e.OccurredAt.UnixNano())
	return uuid.NewSHA1(docNamespace, []byte(key)).String()
}

func toDoc(e history.Event) doc {
	r := e.Record
	d := doc{
		Timestamp: e.OccurredAt.UTC(),
		Event:     string(e.Type),
		Process:   r.Name,
		PID:       r.PID,
		Port:      r.Port,
		ExitErr:   r.ExitErr,
		Spec:      r.SpecJSON,
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt.UTC()
		d.StartedAt = &t
	}
	if !r.StoppedAt.IsZero() {
		t := r.StoppedAt.UTC()
		d.StoppedAt = &t
	}
	return d
}

func fromDoc(d doc) history.Event {
	e := history.Event{
		Type:       history.EventType(d.Event),
		OccurredAt: d.Timestamp,
		Record: history.Record{
			Name:     d.Process,
			PID:      d.PID,
			Port:     d.Port,
			ExitErr:  d.ExitErr,
			SpecJSON: d.Spec,
		},
	}
	if d.StartedAt != nil {
		e.Record.StartedAt = *d.StartedAt
	}
	if d.StoppedAt != nil {
		e.Record.StoppedAt = *d.StoppedAt
	}
	return e
}
