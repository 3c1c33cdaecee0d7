package meterdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meterkast/p1collector/pkg/dsmr"
)

const watermarkTimeFormat = time.RFC3339Nano

// LoadWatermarks returns the persisted per-channel watermarks. A channel
// never written yet comes back as the zero time.
func (s *Store) LoadWatermarks() (dsmr.Watermarks, error) {
	rows, err := s.db.Query("SELECT channel, accepted_at FROM watermarks")
	if err != nil {
		return dsmr.Watermarks{}, fmt.Errorf("load watermarks: %w", err)
	}
	defer rows.Close()

	var marks dsmr.Watermarks
	for rows.Next() {
		var channel, acceptedAt string
		if err := rows.Scan(&channel, &acceptedAt); err != nil {
			return dsmr.Watermarks{}, fmt.Errorf("scan watermark: %w", err)
		}
		ts, err := time.Parse(watermarkTimeFormat, acceptedAt)
		if err != nil {
			return dsmr.Watermarks{}, fmt.Errorf("parse watermark %q: %w", acceptedAt, err)
		}
		switch channel {
		case "electricity":
			marks.Electricity = ts
		case "gas":
			marks.Gas = ts
		}
	}
	return marks, rows.Err()
}

// SaveWatermarks upserts both channel watermarks. Zero times are skipped, so
// a telegram without gas can never wipe a stored gas mark.
func (s *Store) SaveWatermarks(marks dsmr.Watermarks) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save watermarks: %w", err)
	}
	defer tx.Rollback()

	upsert := "INSERT INTO watermarks (channel, accepted_at) VALUES (?, ?) " +
		"ON CONFLICT(channel) DO UPDATE SET accepted_at = excluded.accepted_at"
	if !marks.Electricity.IsZero() {
		at := marks.Electricity.UTC().Format(watermarkTimeFormat)
		if _, err := tx.Exec(upsert, "electricity", at); err != nil {
			return fmt.Errorf("save electricity watermark: %w", err)
		}
	}
	if !marks.Gas.IsZero() {
		at := marks.Gas.UTC().Format(watermarkTimeFormat)
		if _, err := tx.Exec(upsert, "gas", at); err != nil {
			return fmt.Errorf("save gas watermark: %w", err)
		}
	}
	return tx.Commit()
}

// SpoolReading parks a reading that could not be written to the sink.
func (s *Store) SpoolReading(r *dsmr.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO spooled_readings (reading_time, payload) VALUES (?, ?)",
		r.Time.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("spool reading: %w", err)
	}
	return nil
}

// PendingReadings returns up to limit spooled readings, oldest first.
func (s *Store) PendingReadings(limit int) ([]SpooledReading, error) {
	rows, err := s.db.Query(
		"SELECT id, payload FROM spooled_readings ORDER BY id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load spooled readings: %w", err)
	}
	defer rows.Close()

	var pending []SpooledReading
	for rows.Next() {
		var sr SpooledReading
		var payload string
		if err := rows.Scan(&sr.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan spooled reading: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &sr.Reading); err != nil {
			return nil, fmt.Errorf("unmarshal spooled reading %d: %w", sr.ID, err)
		}
		pending = append(pending, sr)
	}
	return pending, rows.Err()
}

// DeleteSpooled removes a spooled reading once the sink accepted it.
func (s *Store) DeleteSpooled(id int64) error {
	_, err := s.db.Exec("DELETE FROM spooled_readings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete spooled reading %d: %w", id, err)
	}
	return nil
}

// TrimSpool drops the oldest spooled readings so at most keep remain.
func (s *Store) TrimSpool(keep int) error {
	_, err := s.db.Exec(
		"DELETE FROM spooled_readings WHERE id NOT IN "+
			"(SELECT id FROM spooled_readings ORDER BY id DESC LIMIT ?)",
		keep,
	)
	if err != nil {
		return fmt.Errorf("trim spool: %w", err)
	}
	return nil
}
