package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mash-protocol/mash-sync/pkg/log"
)

// RunTrace writes the events of a protocol trace file in human-readable
// form.
func RunTrace(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one trace event.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var label string
	switch {
	case event.Frame != nil:
		label = "Frame"
	case event.Message != nil:
		label = event.Message.Type.String()
	case event.Transfer != nil:
		label = event.Transfer.Step.String()
	case event.StateChange != nil:
		label = "State"
	case event.Error != nil:
		label = "Error"
	default:
		label = "Unknown"
	}

	fmt.Fprintf(w, "%s [peer:%s] %-3s %s %s", ts, shortenPeer(event.PeerID), event.Direction, event.Layer, label)
	if event.SubscriptionID != 0 {
		fmt.Fprintf(w, " sub=%d", event.SubscriptionID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if len(event.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(event.Frame.Data))
			if event.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case event.Message != nil:
		m := event.Message
		if m.Status != nil {
			fmt.Fprintf(w, "  Status: %s\n", m.Status.String())
		}
		if m.Elements > 0 || m.Size > 0 {
			fmt.Fprintf(w, "  Elements: %d  Size: %d", m.Elements, m.Size)
			if m.More {
				fmt.Fprint(w, "  more")
			}
			fmt.Fprintln(w)
		}
	case event.Transfer != nil:
		t := event.Transfer
		var parts []string
		if len(t.SessionID) > 0 {
			parts = append(parts, "session="+shortenPeer(hex.EncodeToString(t.SessionID)))
		}
		if t.Destination != "" {
			parts = append(parts, "dest="+t.Destination)
		}
		if t.Counter > 0 {
			parts = append(parts, fmt.Sprintf("block=%d", t.Counter))
		}
		if t.Bytes > 0 {
			parts = append(parts, fmt.Sprintf("bytes=%d", t.Bytes))
		}
		if t.Last {
			parts = append(parts, "last")
		}
		if len(parts) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(parts, " "))
		}
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  %s: %s\n", event.Error.Layer, event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
	fmt.Fprintln(w)
}

// shortenPeer returns the first 8 characters of an identifier.
func shortenPeer(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// ParseLayerFlag parses a layer name.
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "engine":
		return log.LayerEngine, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (valid: transport, wire, engine)", s)
	}
}

// ParseDirectionFlag parses a direction name.
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (valid: in, out)", s)
	}
}

// ParseCategoryFlag parses a category name.
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "transfer":
		return log.CategoryTransfer, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (valid: message, transfer, state, error)", s)
	}
}
