// Package commands implements the mash-evlog CLI commands.
package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/transfer"
	"github.com/mash-protocol/mash-sync/pkg/upload"
)

// ViewFilter selects records in the view and export commands.
type ViewFilter struct {
	Importance *eventlog.Importance
	ProfileID  *uint32
}

func (f ViewFilter) matches(r eventlog.Record) bool {
	if f.Importance != nil && r.Importance != *f.Importance {
		return false
	}
	if f.ProfileID != nil && r.ProfileID != *f.ProfileID {
		return false
	}
	return true
}

// recordFunc receives one decoded record with the block and segment it
// came from.
type recordFunc func(b transfer.ArchiveBlock, s upload.Segment, r eventlog.Record) error

// gapFunc receives one segment that reports evicted events.
type gapFunc func(b transfer.ArchiveBlock, s upload.Segment) error

// walkArchive decodes every record of the archive at path.
func walkArchive(path string, onRecord recordFunc, onGap gapFunc) (transfer.ArchiveHeader, error) {
	reader, err := transfer.OpenArchive(path)
	if err != nil {
		return transfer.ArchiveHeader{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	header := reader.Header()
	for {
		block, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return header, nil
		}
		if err != nil {
			return header, fmt.Errorf("failed to read block: %w", err)
		}
		for _, seg := range block.Segments {
			if seg.Gap > 0 && onGap != nil {
				if err := onGap(block, seg); err != nil {
					return header, err
				}
			}
			for _, raw := range seg.Records {
				rec, err := eventlog.DecodeRecord(raw)
				if err != nil {
					return header, fmt.Errorf("block %d: %w", block.Counter, err)
				}
				if err := onRecord(block, seg, rec); err != nil {
					return header, err
				}
			}
		}
	}
}

// RunView writes the records of an archive in human-readable form.
func RunView(path string, filter ViewFilter, w io.Writer) error {
	reader, err := transfer.OpenArchive(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	formatHeader(w, reader.Header())
	reader.Close()

	_, err = walkArchive(path,
		func(_ transfer.ArchiveBlock, _ upload.Segment, r eventlog.Record) error {
			if filter.matches(r) {
				formatRecord(w, r)
			}
			return nil
		},
		func(b transfer.ArchiveBlock, s upload.Segment) error {
			if filter.Importance == nil || *filter.Importance == s.Importance {
				fmt.Fprintf(w, "-- block %d: %d %s event(s) evicted before upload\n\n", b.Counter, s.Gap, s.Importance)
			}
			return nil
		})
	return err
}

func formatHeader(w io.Writer, h transfer.ArchiveHeader) {
	fmt.Fprintf(w, "Session:     %s\n", hex.EncodeToString(h.SessionID))
	fmt.Fprintf(w, "Peer:        %s\n", h.Peer)
	fmt.Fprintf(w, "Destination: %s\n", h.Destination)
	fmt.Fprintf(w, "Started:     %s\n\n", time.UnixMilli(h.Started).UTC().Format(time.RFC3339))
}

func formatRecord(w io.Writer, r eventlog.Record) {
	ts := r.Time().UTC().Format("2006-01-02T15:04:05.000Z")
	fmt.Fprintf(w, "%s #%d %-10s profile=0x%08x type=%d v%d\n",
		ts, r.ID, r.Importance, r.ProfileID, r.StructureType, r.SchemaVersion)
	if len(r.Payload) > 0 {
		fmt.Fprintf(w, "  %s\n", diagnose(r.Payload))
	}
	fmt.Fprintln(w)
}

// diagnose renders a payload in CBOR diagnostic notation, or hex when it
// does not decode.
func diagnose(payload cbor.RawMessage) string {
	s, err := cbor.Diagnose(payload)
	if err != nil {
		return hex.EncodeToString(payload)
	}
	return s
}

// exportRecord is the JSON form of a record.
type exportRecord struct {
	ID            uint32 `json:"id"`
	Importance    string `json:"importance"`
	ProfileID     uint32 `json:"profile_id"`
	StructureType uint16 `json:"structure_type"`
	SchemaVersion uint16 `json:"schema_version"`
	Timestamp     string `json:"timestamp"`
	Block         uint32 `json:"block"`
	Payload       string `json:"payload,omitempty"`
}

func toExport(b transfer.ArchiveBlock, r eventlog.Record) exportRecord {
	e := exportRecord{
		ID:            uint32(r.ID),
		Importance:    r.Importance.String(),
		ProfileID:     r.ProfileID,
		StructureType: r.StructureType,
		SchemaVersion: r.SchemaVersion,
		Timestamp:     r.Time().UTC().Format(time.RFC3339Nano),
		Block:         b.Counter,
	}
	if len(r.Payload) > 0 {
		e.Payload = diagnose(r.Payload)
	}
	return e
}

// RunExport exports the records of an archive as jsonl or csv.
func RunExport(path, format, output string, filter ViewFilter) error {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		encoder := json.NewEncoder(w)
		_, err := walkArchive(path, func(b transfer.ArchiveBlock, _ upload.Segment, r eventlog.Record) error {
			if !filter.matches(r) {
				return nil
			}
			if err := encoder.Encode(toExport(b, r)); err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			return nil
		}, nil)
		return err

	case "csv":
		cw := csv.NewWriter(w)
		defer cw.Flush()
		header := []string{"id", "importance", "profile_id", "structure_type", "schema_version", "timestamp", "block", "payload"}
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		_, err := walkArchive(path, func(b transfer.ArchiveBlock, _ upload.Segment, r eventlog.Record) error {
			if !filter.matches(r) {
				return nil
			}
			e := toExport(b, r)
			return cw.Write([]string{
				strconv.FormatUint(uint64(e.ID), 10),
				e.Importance,
				fmt.Sprintf("0x%08x", e.ProfileID),
				strconv.FormatUint(uint64(e.StructureType), 10),
				strconv.FormatUint(uint64(e.SchemaVersion), 10),
				e.Timestamp,
				strconv.FormatUint(uint64(e.Block), 10),
				e.Payload,
			})
		}, nil)
		return err

	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

type levelStats struct {
	events   int
	gaps     uint32
	first    eventlog.EventID
	last     eventlog.EventID
	profiles map[uint32]int
}

// RunStats summarizes an archive per importance.
func RunStats(path string, w io.Writer) error {
	levels := make(map[eventlog.Importance]*levelStats)
	get := func(imp eventlog.Importance) *levelStats {
		ls, ok := levels[imp]
		if !ok {
			ls = &levelStats{profiles: make(map[uint32]int)}
			levels[imp] = ls
		}
		return ls
	}

	blocks := make(map[uint32]struct{})
	var firstTS, lastTS int64
	header, err := walkArchive(path,
		func(b transfer.ArchiveBlock, _ upload.Segment, r eventlog.Record) error {
			blocks[b.Counter] = struct{}{}
			ls := get(r.Importance)
			if ls.events == 0 || r.ID < ls.first {
				ls.first = r.ID
			}
			if r.ID > ls.last {
				ls.last = r.ID
			}
			ls.events++
			ls.profiles[r.ProfileID]++
			if firstTS == 0 || r.Timestamp < firstTS {
				firstTS = r.Timestamp
			}
			if r.Timestamp > lastTS {
				lastTS = r.Timestamp
			}
			return nil
		},
		func(b transfer.ArchiveBlock, s upload.Segment) error {
			get(s.Importance).gaps += s.Gap
			return nil
		})
	if err != nil {
		return err
	}

	formatHeader(w, header)
	fmt.Fprintf(w, "Blocks with events: %d\n", len(blocks))
	if firstTS != 0 {
		fmt.Fprintf(w, "Time range: %s .. %s\n",
			time.UnixMilli(firstTS).UTC().Format(time.RFC3339),
			time.UnixMilli(lastTS).UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	for _, imp := range eventlog.Importances {
		ls, ok := levels[imp]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s:\n", imp)
		fmt.Fprintf(w, "  Events: %d", ls.events)
		if ls.events > 0 {
			fmt.Fprintf(w, " (ids %d..%d)", ls.first, ls.last)
		}
		fmt.Fprintln(w)
		if ls.gaps > 0 {
			fmt.Fprintf(w, "  Evicted: %d\n", ls.gaps)
		}

		profiles := make([]uint32, 0, len(ls.profiles))
		for p := range ls.profiles {
			profiles = append(profiles, p)
		}
		sort.Slice(profiles, func(i, j int) bool { return profiles[i] < profiles[j] })
		for _, p := range profiles {
			fmt.Fprintf(w, "  Profile 0x%08x: %d\n", p, ls.profiles[p])
		}
	}
	return nil
}
