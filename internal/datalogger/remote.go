package datalogger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// remotePayload is the JSON body posted to the remote logging
// endpoint. BatchID lets the collector deduplicate a sub-batch that
// arrives twice after a client-side timeout hides a successful post.
type remotePayload struct {
	BatchID string        `json:"batch_id"`
	Device  string        `json:"device"`
	Data    []remoteEntry `json:"data"`
}

type remoteEntry struct {
	ModuleID  int64   `json:"module_id"`
	Value     float64 `json:"value"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// remoteClient POSTs sub-batches to the configured remote logging
// endpoint, throttled to at most one outbound attempt per second so a
// misbehaving retry loop cannot flood the remote collector.
type remoteClient struct {
	http    *http.Client
	url     string
	apiKey  string
	device  string
	limiter *rate.Limiter
}

func newRemoteClient(cfg Config) *remoteClient {
	return &remoteClient{
		http: &http.Client{
			// Total 10s budget; the 5s connect budget is
			// enforced by the dialer below.
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		url:     cfg.RemoteURL,
		apiKey:  cfg.RemoteAPIKey,
		device:  cfg.Device,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// post sends one sub-batch. Success is any 2xx status.
func (r *remoteClient) post(ctx context.Context, entries []Entry) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return rtuerr.Wrap(err, rtuerr.Timeout, "datalogger", "post", "rate limiter wait")
	}

	batchID := uuid.NewString()
	payload := remotePayload{BatchID: batchID, Device: r.device, Data: make([]remoteEntry, len(entries))}
	for i, e := range entries {
		payload.Data[i] = remoteEntry{
			ModuleID:  e.ModuleID,
			Value:     e.Value,
			Status:    e.Status,
			Timestamp: e.Timestamp.Unix(),
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.InvalidParam, "datalogger", "post", "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.InvalidParam, "datalogger", "post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", batchID)
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "datalogger", "post", "http request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rtuerr.New(rtuerr.IoError, "datalogger", "post", fmt.Sprintf("remote returned status %d", resp.StatusCode))
	}
	return nil
}
