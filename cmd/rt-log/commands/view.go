// Package commands implements the rt-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/parcelview/realtime-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	ConnID    string
}

func (f ViewFilter) matches(event log.Event) bool {
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.ConnID != "" && !strings.HasPrefix(event.ConnectionID, f.ConnID) {
		return false
	}
	return true
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !filter.matches(event) {
			continue
		}
		formatEvent(output, event)
	}
	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Envelope != nil:
		typeLabel = event.Envelope.Type
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Control != nil:
		typeLabel = event.Control.Type.String()
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, layerStr, typeLabel)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Envelope != nil:
		formatEnvelopeDetails(w, event.Envelope)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Control != nil:
		formatControlDetails(w, event.Control)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", frame.Data)
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatEnvelopeDetails(w io.Writer, env *log.EnvelopeEvent) {
	if env.Seq != 0 {
		fmt.Fprintf(w, "  Seq: %d\n", env.Seq)
	}
	if env.SessionID != "" {
		fmt.Fprintf(w, "  Session: %s\n", env.SessionID)
	}
	if env.PayloadSize > 0 {
		fmt.Fprintf(w, "  Payload: %d bytes\n", env.PayloadSize)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatControlDetails(w io.Writer, ctrl *log.ControlEvent) {
	if ctrl.Seq != 0 {
		fmt.Fprintf(w, "  Seq: %d\n", ctrl.Seq)
	}
	if ctrl.LatencyNs > 0 {
		fmt.Fprintf(w, "  Latency: %.3fms\n", float64(ctrl.LatencyNs)/1e6)
	}
}

func formatErrorDetails(w io.Writer, errEv *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", errEv.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", errEv.Message)
	if errEv.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *errEv.Code)
	}
	if errEv.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", errEv.Context)
	}
}

// ParseLayerFlag parses a layer string from a command-line flag
// (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "envelope":
		return log.LayerEnvelope, nil
	case "session":
		return log.LayerSession, nil
	case "telemetry":
		return log.LayerTelemetry, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, envelope, session, or telemetry)", s)
	}
}

// ParseDirectionFlag parses a direction string from a command-line flag
// (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from a command-line flag
// (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}
