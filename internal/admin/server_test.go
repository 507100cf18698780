// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzReportsOK(t *testing.T) {
	s := New(":0", SnapshotSource{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	if rw.Body.String() != "ok\n" {
		t.Fatalf("body = %q, want \"ok\\n\"", rw.Body.String())
	}
}

func TestSnapshotReturnsJSONWithEmptySources(t *testing.T) {
	s := New(":0", SnapshotSource{})
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if _, ok := body["generated_at"]; !ok {
		t.Fatal("response missing generated_at field")
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(":0", SnapshotSource{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
}
