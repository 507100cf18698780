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

	"github.com/linkedin/goavro/v2"

	"github.com/lonelywolf1981/bench-acquisition/internal/store"
)

// checkpointSchema reuses the quarantine log's shape: every record
// flattens to its kind plus a JSON payload, which decodes straight back
// into a store.Record on replay.
const checkpointSchema = quarantineSchema

// Checkpoint periodically snapshots the Writer's currently-accumulating,
// not-yet-committed batch to a single Avro file, so a crash between
// batches loses at most the interval since the last checkpoint rather
// than the whole pending batch. The file is rewritten in full on every
// Save and removed once its contents are durably committed.
type Checkpoint struct {
	path  string
	codec *goavro.Codec
}

// NewCheckpoint compiles the fixed schema and binds it to path.
func NewCheckpoint(path string) (*Checkpoint, error) {
	codec, err := goavro.NewCodec(checkpointSchema)
	if err != nil {
		return nil, fmt.Errorf("writer: compile checkpoint schema: %w", err)
	}
	return &Checkpoint{path: path, codec: codec}, nil
}

// Save overwrites the checkpoint file with records, written atomically via
// a temp-file-then-rename so a crash mid-write never leaves a truncated,
// unreadable checkpoint behind. Save(nil) is equivalent to Clear.
func (c *Checkpoint) Save(records []store.Record) error {
	if len(records) == 0 {
		return c.Clear()
	}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("writer: create checkpoint temp file: %w", err)
	}

	avroRecords := make([]map[string]any, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writer: marshal checkpoint record: %w", err)
		}
		avroRecords = append(avroRecords, map[string]any{
			"kind":         recordKindName(r.Kind),
			"payload_json": string(payload),
		})
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           c.codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writer: create checkpoint OCF writer: %w", err)
	}
	if err := ocfWriter.Append(avroRecords); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writer: write checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writer: close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("writer: install checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file. It is not an error for the file to
// already be absent.
func (c *Checkpoint) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("writer: remove checkpoint: %w", err)
	}
	return nil
}

// Load reads back every record in the checkpoint file, for replay at
// startup before the Experiment Coordinator's recover() runs. A missing
// file is not an error: it returns an empty, nil-error result.
func (c *Checkpoint) Load() ([]store.Record, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("writer: open checkpoint: %w", err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("writer: create checkpoint OCF reader: %w", err)
	}

	var out []store.Record
	for reader.Scan() {
		v, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("writer: read checkpoint record: %w", err)
		}
		m := v.(map[string]any)
		var r store.Record
		if err := json.Unmarshal([]byte(m["payload_json"].(string)), &r); err != nil {
			return nil, fmt.Errorf("writer: unmarshal checkpoint record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
