package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/parcelview/realtime-go/pkg/log"
)

// Stats aggregates counters over a capture file.
type Stats struct {
	Total       int
	FirstEvent  time.Time
	LastEvent   time.Time
	ByDirection map[log.Direction]int
	ByLayer     map[log.Layer]int
	ByCategory  map[log.Category]int
	ByType      map[string]int // envelope type discriminators
	Connections map[string]int
	Errors      int
}

// CollectStats reads the whole capture file and aggregates counters.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		ByDirection: make(map[log.Direction]int),
		ByLayer:     make(map[log.Layer]int),
		ByCategory:  make(map[log.Category]int),
		ByType:      make(map[string]int),
		Connections: make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.Total++
		if stats.FirstEvent.IsZero() || event.Timestamp.Before(stats.FirstEvent) {
			stats.FirstEvent = event.Timestamp
		}
		if event.Timestamp.After(stats.LastEvent) {
			stats.LastEvent = event.Timestamp
		}

		stats.ByDirection[event.Direction]++
		stats.ByLayer[event.Layer]++
		stats.ByCategory[event.Category]++
		if event.ConnectionID != "" {
			stats.Connections[event.ConnectionID]++
		}
		if event.Envelope != nil {
			stats.ByType[event.Envelope.Type]++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

// RunStats executes the stats command.
func RunStats(path string, output io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Capture file: %s\n", path)
	fmt.Fprintf(output, "Events:       %d\n", stats.Total)
	if stats.Total == 0 {
		return nil
	}

	fmt.Fprintf(output, "Time range:   %s .. %s (%s)\n",
		stats.FirstEvent.UTC().Format(time.RFC3339),
		stats.LastEvent.UTC().Format(time.RFC3339),
		stats.LastEvent.Sub(stats.FirstEvent).Round(time.Millisecond))
	fmt.Fprintf(output, "Connections:  %d\n", len(stats.Connections))
	fmt.Fprintln(output)

	fmt.Fprintln(output, "By direction:")
	fmt.Fprintf(output, "  IN:  %d\n", stats.ByDirection[log.DirectionIn])
	fmt.Fprintf(output, "  OUT: %d\n", stats.ByDirection[log.DirectionOut])
	fmt.Fprintln(output)

	fmt.Fprintln(output, "By layer:")
	for l := log.LayerTransport; l <= log.LayerTelemetry; l++ {
		if n := stats.ByLayer[l]; n > 0 {
			fmt.Fprintf(output, "  %-10s %d\n", l.String()+":", n)
		}
	}
	fmt.Fprintln(output)

	fmt.Fprintln(output, "By category:")
	for c := log.CategoryMessage; c <= log.CategoryError; c++ {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Fprintf(output, "  %-10s %d\n", c.String()+":", n)
		}
	}

	if len(stats.ByType) > 0 {
		fmt.Fprintln(output)
		fmt.Fprintln(output, "Envelope types:")
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(output, "  %-20s %d\n", t+":", stats.ByType[t])
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(output)
		fmt.Fprintf(output, "Errors:       %d\n", stats.Errors)
	}
	return nil
}
