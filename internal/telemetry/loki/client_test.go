package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func captureServer(t *testing.T, status int, got *PushRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)
	c, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	raw := []byte(`{"ownerId":"owner 1","deviceId":"d1","eventType":"device_state_reported","source":"device","createdAt":"2026-05-01T12:00:00Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 || len(got.Streams[0].Values) != 1 {
		t.Fatalf("unexpected body: %+v", got)
	}
	labels := got.Streams[0].Stream
	want := map[string]string{"job": Job, "owner_id": "owner_1", "device_id": "d1", "event_type": "device_state_reported", "source": "device"}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("label %s = %q, want %q", k, labels[k], v)
		}
	}
	wantTS := strconv.FormatInt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).UnixNano(), 10)
	if got.Streams[0].Values[0][0] != wantTS {
		t.Errorf("timestamp = %s, want %s", got.Streams[0].Values[0][0], wantTS)
	}
	if got.Streams[0].Values[0][1] != string(raw) {
		t.Errorf("line = %s", got.Streams[0].Values[0][1])
	}
}

func TestPushEventJSON_InvalidJSONPushedRaw(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusOK, &got)
	c, _ := NewClient(srv.URL, nil)
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	labels := got.Streams[0].Stream
	if len(labels) != 1 || labels["job"] != Job {
		t.Errorf("labels = %v, want only job", labels)
	}
	if got.Streams[0].Values[0][1] != "not json" {
		t.Errorf("line = %q", got.Streams[0].Values[0][1])
	}
}

func TestPush_Non2xx(t *testing.T) {
	srv := captureServer(t, http.StatusBadRequest, nil)
	c, _ := NewClient(srv.URL, nil)
	if err := c.Push(context.Background(), time.Now(), "x", nil); err == nil {
		t.Fatal("expected error on 400")
	}
}
