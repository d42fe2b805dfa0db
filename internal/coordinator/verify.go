package coordinator

import (
	"path"
	"strings"
	"time"

	"github.com/notecove/notecove/internal/deletionlog"
	"github.com/notecove/notecove/internal/imagestore"
	"github.com/notecove/notecove/internal/logcodec"
)

// LogProblem reports a single corrupt or inconsistent .crdtlog file found
// during Verify.
type LogProblem struct {
	NoteID string   `json:"noteId"`
	Path   string   `json:"path"`
	Errors []string `json:"errors"`
}

// VerifyReport is the result of running every consistency check Verify
// knows about against one SD, without mutating anything on disk.
type VerifyReport struct {
	SDID            string       `json:"sdId"`
	NotesScanned    int          `json:"notesScanned"`
	LogProblems     []LogProblem `json:"logProblems"`
	OrphanTombstones []string    `json:"orphanTombstones"` // permanently deleted note ids whose notes/ directory is still present
	OrphanImages    []string     `json:"orphanImages"`     // media files unreferenced and older than OrphanAge
}

// Clean reports whether Verify found nothing worth flagging.
func (r VerifyReport) Clean() bool {
	return len(r.LogProblems) == 0 && len(r.OrphanTombstones) == 0 && len(r.OrphanImages) == 0
}

// Verify runs validateSequences over every note's .crdtlog files, cross
// checks DeletionLog tombstones against what's actually present in
// notes/, and reports (without deleting) ImageStore orphans. It is the
// read-only counterpart to the periodic background orphan sweep.
func (c *Coordinator) Verify(sdID string) (VerifyReport, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return VerifyReport{}, err
	}

	report := VerifyReport{SDID: sdID}

	noteIDs, err := sd.adapter.ListDir("notes")
	if err != nil {
		return report, err
	}
	report.NotesScanned = len(noteIDs)

	for _, noteID := range noteIDs {
		logNames, err := sd.adapter.ListDir(path.Join("notes", noteID, "logs"))
		if err != nil {
			continue // no logs dir yet; nothing to validate
		}
		for _, name := range logNames {
			if !strings.HasSuffix(name, ".crdtlog") {
				continue
			}
			logPath := path.Join("notes", noteID, "logs", name)
			result := logcodec.ValidateSequences(sd.adapter, logPath)
			if !result.Valid {
				report.LogProblems = append(report.LogProblems, LogProblem{
					NoteID: noteID,
					Path:   logPath,
					Errors: result.Errors,
				})
			}
		}
	}

	entries, err := deletionlog.ReadAll(sd.adapter)
	if err == nil {
		present := make(map[string]bool, len(noteIDs))
		for _, id := range noteIDs {
			present[id] = true
		}
		for noteID, entry := range deletionlog.Latest(entries) {
			if entry.Op != deletionlog.OpPermanent {
				continue
			}
			if present[noteID] {
				report.OrphanTombstones = append(report.OrphanTombstones, noteID)
			}
		}
	}

	refs, err := c.collectReferencedImages(sd)
	if err == nil {
		report.OrphanImages = c.findOrphanImages(sd, refs, time.Now())
	}

	return report, nil
}

// findOrphanImages lists media/ files unreferenced by any live note and
// older than imagestore.OrphanAge, without deleting them — the read-only
// counterpart to Store.SweepOrphans used by the background sweep.
func (c *Coordinator) findOrphanImages(sd *sdState, referenced imagestore.ReferenceSet, now time.Time) []string {
	names, err := sd.adapter.ListDir("media")
	if err != nil {
		return nil
	}

	var orphans []string
	for _, name := range names {
		base := name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			base = name[:idx]
		}
		if referenced[base] {
			continue
		}
		info, err := sd.adapter.Stat(path.Join("media", name))
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < imagestore.OrphanAge {
			continue
		}
		orphans = append(orphans, base)
	}
	return orphans
}
