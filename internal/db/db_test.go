package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/estimate"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewDB failed")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndQueryEstimates(t *testing.T) {
	db := newTestDB(t)

	reports := []estimate.Report{
		{
			TagMac:        "11:22:33:44:55:66",
			ErrorEstimate: 4.3,
			Confidence:    0.43,
			Anchors: []estimate.AnchorReport{
				{Mac: "a1", NVar: 2.0, EWMA: 1.0},
				{Mac: "a2", NVar: 2.1, EWMA: 5.0},
			},
			WarningAnchors: []string{"a2"},
		},
		{
			TagMac:        "11:22:33:44:55:66",
			ErrorEstimate: 2.5,
			Confidence:    0.80,
			Anchors: []estimate.AnchorReport{
				{Mac: "a1", NVar: 2.0, EWMA: 1.0},
			},
		},
	}
	for _, rep := range reports {
		require.NoError(t, db.RecordEstimate(rep))
	}

	records, err := db.Estimates(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, "11:22:33:44:55:66", r.TagMac)
		require.NotEmpty(t, r.ID)
	}

	limited, err := db.Estimates(1)
	require.NoError(t, err)
	require.Len(t, limited, 1, "limit not applied")
}

func TestStats(t *testing.T) {
	db := newTestDB(t)

	empty, err := db.Stats()
	require.NoError(t, err, "Stats on empty table failed")
	require.Equal(t, EstimateStats{}, empty)

	for _, e := range []float64{2.0, 4.0, 6.0} {
		require.NoError(t, db.RecordEstimate(estimate.Report{TagMac: "t", ErrorEstimate: e, Confidence: 0.5}))
	}

	s, err := db.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(3), s.Count)
	require.Equal(t, 4.0, s.AvgError)
	require.Equal(t, 6.0, s.MaxError)
	require.Equal(t, 0.5, s.AvgConfidence)
}

func TestTagRollup(t *testing.T) {
	db := newTestDB(t)

	for _, rep := range []estimate.Report{
		{TagMac: "t1", ErrorEstimate: 2.0, Confidence: 0.8},
		{TagMac: "t1", ErrorEstimate: 6.0, Confidence: 0.2},
		{TagMac: "t2", ErrorEstimate: 7.4, Confidence: 0.0},
	} {
		require.NoError(t, db.RecordEstimate(rep))
	}

	stats, err := db.TagRollup()
	require.NoError(t, err)
	require.Len(t, stats, 2)

	require.Equal(t, "t1", stats[0].TagMac)
	require.Equal(t, int64(2), stats[0].Count)
	require.Equal(t, 4.0, stats[0].AvgError)
	require.Equal(t, 6.0, stats[0].MaxError)
	require.Equal(t, 0.5, stats[0].AvgConfidence)

	require.Equal(t, "t2", stats[1].TagMac)
	require.Equal(t, int64(1), stats[1].Count)
	require.Equal(t, 7.4, stats[1].MaxError)
}

func TestAnchorStatuses(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.RecordAnchorStatus([]anchor.Status{
		{Mac: "a1", RSSI0: -59, N: 2.0, EWMA: 1.2, State: anchor.Healthy, MessageCount: 3},
		{Mac: "a2", RSSI0: -62, N: 2.4, EWMA: 4.5, State: anchor.Warning, MessageCount: 7},
	}))

	records, err := db.AnchorStatuses(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a1", records[0].Mac)
	require.Equal(t, "warning", records[1].State)
	require.Equal(t, int64(7), records[1].MessageCount)

	limited, err := db.AnchorStatuses(1)
	require.NoError(t, err)
	require.Len(t, limited, 1, "limit not applied")
}

func TestRecordAnchorStatus(t *testing.T) {
	db := newTestDB(t)

	statuses := []anchor.Status{
		{Mac: "a1", RSSI0: -59, N: 2.0, EWMA: 1.2, State: anchor.Healthy, MessageCount: 10, LastSeen: time.Now()},
		{Mac: "a2", RSSI0: -61.5, N: 2.3, EWMA: 9.1, State: anchor.Faulty, MessageCount: 4},
	}
	require.NoError(t, db.RecordAnchorStatus(statuses))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM anchor_status").Scan(&count))
	require.Equal(t, 2, count)

	var state string
	require.NoError(t, db.QueryRow("SELECT state FROM anchor_status WHERE mac = ?", "a2").Scan(&state))
	require.Equal(t, "faulty", state)
}
