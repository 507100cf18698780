// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/lonelywolf1981/bench-acquisition/internal/store"
)

// quarantineSchema is fixed: every permanently-failed record is flattened
// to its kind plus a JSON payload, so one static codec covers aggregate
// windows, anomaly events and state transitions alike.
const quarantineSchema = `{
	"type": "record",
	"name": "QuarantinedRecord",
	"fields": [
		{"name": "kind", "type": "string"},
		{"name": "payload_json", "type": "string"}
	]
}`

// QuarantineLog is an append-only Avro object container file holding
// batches the Store permanently rejected, so no acquisition data is
// silently lost when PersistRetryExceeded fires.
type QuarantineLog struct {
	mu    sync.Mutex
	path  string
	codec *goavro.Codec
}

// NewQuarantineLog compiles the fixed schema and returns a log bound to
// path. The file itself is opened lazily on first Append.
func NewQuarantineLog(path string) (*QuarantineLog, error) {
	codec, err := goavro.NewCodec(quarantineSchema)
	if err != nil {
		return nil, fmt.Errorf("writer: compile quarantine schema: %w", err)
	}
	return &QuarantineLog{path: path, codec: codec}, nil
}

func recordKindName(k store.RecordKind) string {
	switch k {
	case store.RecordWindow:
		return "window"
	case store.RecordAnomaly:
		return "anomaly"
	case store.RecordStateTransition:
		return "state_transition"
	default:
		return "unknown"
	}
}

// Append writes records to the quarantine file, creating it (with a fresh
// OCF header) if it does not yet exist.
func (q *QuarantineLog) Append(records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("writer: open quarantine log: %w", err)
	}
	defer f.Close()

	avroRecords := make([]map[string]any, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("writer: marshal quarantined record: %w", err)
		}
		avroRecords = append(avroRecords, map[string]any{
			"kind":         recordKindName(r.Kind),
			"payload_json": string(payload),
		})
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           q.codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("writer: create OCF writer: %w", err)
	}
	if err := ocfWriter.Append(avroRecords); err != nil {
		return fmt.Errorf("writer: append quarantine records: %w", err)
	}
	return nil
}

// QuarantinedRecord is one decoded quarantine-log entry.
type QuarantinedRecord struct {
	Kind        string
	PayloadJSON string
}

// ReadAll scans the whole quarantine log, for operator inspection or
// manual replay after a Store outage is resolved.
func (q *QuarantineLog) ReadAll() ([]QuarantinedRecord, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("writer: open quarantine log: %w", err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("writer: create OCF reader: %w", err)
	}

	var out []QuarantinedRecord
	for reader.Scan() {
		v, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("writer: read quarantine record: %w", err)
		}
		m := v.(map[string]any)
		out = append(out, QuarantinedRecord{
			Kind:        m["kind"].(string),
			PayloadJSON: m["payload_json"].(string),
		})
	}
	return out, nil
}
