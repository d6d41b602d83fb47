package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/estimate"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS estimates (
			id                TEXT PRIMARY KEY,
			tag_mac           TEXT,
			error_m           DOUBLE,
			confidence        DOUBLE,
			anchor_count      BIGINT,
			warning_count     BIGINT,
			faulty_count      BIGINT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS anchor_status (
			mac               TEXT,
			rssi0             DOUBLE,
			n                 DOUBLE,
			ewma              DOUBLE,
			state             TEXT,
			message_count     BIGINT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// RecordEstimate persists one per-message error report.
func (db *DB) RecordEstimate(rep estimate.Report) error {
	_, err := db.Exec(
		`INSERT INTO estimates (
			id, tag_mac, error_m, confidence, anchor_count, warning_count, faulty_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rep.TagMac, rep.ErrorEstimate, rep.Confidence,
		len(rep.Anchors), len(rep.WarningAnchors), len(rep.FaultyAnchors),
	)
	if err != nil {
		return err
	}
	return nil
}

// RecordAnchorStatus appends one row per anchor, forming a health
// time series.
func (db *DB) RecordAnchorStatus(statuses []anchor.Status) error {
	for _, s := range statuses {
		_, err := db.Exec(
			`INSERT INTO anchor_status (mac, rssi0, n, ewma, state, message_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.Mac, s.RSSI0, s.N, s.EWMA, string(s.State), s.MessageCount,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type EstimateRecord struct {
	ID            string  `json:"id"`
	TagMac        string  `json:"tag_mac"`
	ErrorEstimate float64 `json:"error_estimate"`
	Confidence    float64 `json:"confidence"`
	AnchorCount   int64   `json:"anchor_count"`
	WarningCount  int64   `json:"warning_count"`
	FaultyCount   int64   `json:"faulty_count"`
	Timestamp     string  `json:"timestamp"`
}

func (e *EstimateRecord) String() string {
	return fmt.Sprintf("Tag: %s, Error: %.2fm, Confidence: %.3f, Anchors: %d", e.TagMac, e.ErrorEstimate, e.Confidence, e.AnchorCount)
}

// Estimates returns the most recent rows, newest first.
func (db *DB) Estimates(limit int) ([]EstimateRecord, error) {
	rows, err := db.Query(
		`SELECT id, tag_mac, error_m, confidence, anchor_count, warning_count, faulty_count, timestamp
		FROM estimates ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EstimateRecord
	for rows.Next() {
		var r EstimateRecord
		if err := rows.Scan(
			&r.ID,
			&r.TagMac,
			&r.ErrorEstimate,
			&r.Confidence,
			&r.AnchorCount,
			&r.WarningCount,
			&r.FaultyCount,
			&r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type EstimateStats struct {
	Count         int64   `json:"count"`
	AvgError      float64 `json:"avg_error"`
	MaxError      float64 `json:"max_error"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats summarises the whole estimates table.
func (db *DB) Stats() (EstimateStats, error) {
	var s EstimateStats
	err := db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(AVG(error_m), 0),
			COALESCE(MAX(error_m), 0),
			COALESCE(AVG(confidence), 0)
		FROM estimates`,
	).Scan(&s.Count, &s.AvgError, &s.MaxError, &s.AvgConfidence)
	if err != nil {
		return EstimateStats{}, err
	}
	return s, nil
}

type TagStats struct {
	TagMac        string  `json:"tag_mac"`
	Count         int64   `json:"count"`
	AvgError      float64 `json:"avg_error"`
	MaxError      float64 `json:"max_error"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// TagRollup summarises estimates per tag.
func (db *DB) TagRollup() ([]TagStats, error) {
	rows, err := db.Query(
		`SELECT tag_mac, COUNT(*), AVG(error_m), MAX(error_m), AVG(confidence)
		FROM estimates GROUP BY tag_mac ORDER BY tag_mac`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TagStats
	for rows.Next() {
		var s TagStats
		if err := rows.Scan(&s.TagMac, &s.Count, &s.AvgError, &s.MaxError, &s.AvgConfidence); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

type AnchorStatusRecord struct {
	Mac          string  `json:"mac"`
	RSSI0        float64 `json:"rssi0"`
	N            float64 `json:"n"`
	EWMA         float64 `json:"ewma"`
	State        string  `json:"state"`
	MessageCount int64   `json:"message_count"`
	Timestamp    string  `json:"timestamp"`
}

// AnchorStatuses returns the most recent snapshot rows, newest first.
func (db *DB) AnchorStatuses(limit int) ([]AnchorStatusRecord, error) {
	rows, err := db.Query(
		`SELECT mac, rssi0, n, ewma, state, message_count, timestamp
		FROM anchor_status ORDER BY timestamp DESC, mac ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AnchorStatusRecord
	for rows.Next() {
		var r AnchorStatusRecord
		if err := rows.Scan(&r.Mac, &r.RSSI0, &r.N, &r.EWMA, &r.State, &r.MessageCount, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://estimates.db", db.DB, &tailsql.DBOptions{
		Label: "Estimates DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := gzipWriter.Write([]byte{}); err != nil {
			// Need to write something to initialize the gzip header
			http.Error(w, fmt.Sprintf("Failed to initialize gzip writer: %v", err), http.StatusInternalServerError)
			return
		}

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
