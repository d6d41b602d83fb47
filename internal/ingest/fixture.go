package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/beacon.report/internal/monitoring"
)

// FixtureSource replays position reports from a newline-delimited JSON
// file, one message per interval, looping until cancelled. It stands in
// for a live position engine during development.
type FixtureSource struct {
	messages [][]byte
	interval time.Duration
	hub      *Hub
}

// NewFixtureSource loads path and returns a source replaying its
// messages every interval.
func NewFixtureSource(path string, interval time.Duration) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var messages [][]byte
	scan := bufio.NewScanner(bytes.NewReader(data))
	scan.Buffer(make([]byte, maxDatagram), maxDatagram)
	for scan.Scan() {
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 {
			continue
		}
		messages = append(messages, append([]byte(nil), line...))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan fixture file: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("fixture file %s holds no messages", path)
	}

	return &FixtureSource{
		messages: messages,
		interval: interval,
		hub:      NewHub(),
	}, nil
}

func (f *FixtureSource) Hub() *Hub { return f.hub }

// Monitor replays the fixture in a loop. Timestamps are rewritten to
// the current clock so the stale-message guard does not reject old
// captures.
func (f *FixtureSource) Monitor(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			msg, err := ParseMessage(f.messages[i%len(f.messages)])
			if err != nil {
				monitoring.Logf("ingest: bad fixture message %d: %v", i%len(f.messages), err)
			} else {
				msg.Reading.Timestamp = time.Now()
				f.hub.Broadcast(msg)
			}
			i++
		}
	}
}

func (f *FixtureSource) Close() error {
	f.hub.Close()
	return nil
}
