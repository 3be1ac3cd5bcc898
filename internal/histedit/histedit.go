// Package histedit implements the scripted half of C9: pick/edit/drop/
// fold/mesg replay of a commit range, sharing rebase's journaled ref
// machinery and per-commit replay step.
package histedit

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/rebase"
	"github.com/hagenbeck/vctree/internal/refstore"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// Action is one histedit script verb.
type Action string

const (
	ActionPick Action = "pick"
	ActionEdit Action = "edit"
	ActionDrop Action = "drop"
	ActionFold Action = "fold"
	ActionMesg Action = "mesg"
)

// Line is one parsed script entry: (action, commit-id, logmsg?).
type Line struct {
	Action Action
	Commit objstore.Hash
	Text   string // the log message, set only for ActionMesg
}

const ScriptFileName = "histedit-script"

// ParseScript parses the newline-separated "(action, commit-id, logmsg?)"
// script format: "pick <id>", "edit <id>", "drop <id>", "fold <id>", or
// "mesg <text>". Blank lines and lines starting with '#' are skipped.
func ParseScript(data []byte) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		parts := strings.SplitN(raw, " ", 2)
		action := Action(parts[0])
		switch action {
		case ActionPick, ActionEdit, ActionDrop, ActionFold:
			if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
				return nil, fmt.Errorf("histedit script: %q: missing commit id", raw)
			}
			lines = append(lines, Line{Action: action, Commit: objstore.Hash(strings.TrimSpace(parts[1]))})
		case ActionMesg:
			text := ""
			if len(parts) == 2 {
				text = parts[1]
			}
			lines = append(lines, Line{Action: ActionMesg, Text: text})
		default:
			return nil, fmt.Errorf("histedit script: %q: unknown action %q", raw, parts[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("histedit script: %w", err)
	}
	return lines, nil
}

// Validate checks the script against source, the ordered list of commits
// (oldest first) the operation covers: every commit must appear at least
// once in a non-mesg line (else wterr.MissingCommit); the script must not
// end on a fold line (else wterr.FoldLast); a mesg line must immediately
// follow an edit line or be the final line of a fold group (a run of
// fold lines followed by the commit they accumulate into).
func Validate(lines []Line, source []objstore.Hash) error {
	if len(lines) == 0 {
		return wterr.New(wterr.MissingCommit, fmt.Errorf("empty histedit script"))
	}

	seen := make(map[objstore.Hash]bool)
	for _, l := range lines {
		if l.Action == ActionMesg {
			continue
		}
		seen[l.Commit] = true
	}
	for _, id := range source {
		if !seen[id] {
			return wterr.New(wterr.MissingCommit, fmt.Errorf("commit %s missing from script", id))
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Action == ActionMesg {
			continue
		}
		if lines[i].Action == ActionFold {
			return wterr.New(wterr.FoldLast, fmt.Errorf("script cannot end on a fold line"))
		}
		break
	}

	// absorbs[i] marks a line that a following mesg may legally attach to:
	// an edit line, or a pick/edit line that itself absorbs one or more
	// immediately preceding fold lines (drop lines in between don't break
	// the run, matching the fold-group commit still absorbing it).
	absorbs := make([]bool, len(lines))
	inFoldRun := false
	for i, l := range lines {
		switch l.Action {
		case ActionFold:
			inFoldRun = true
		case ActionPick, ActionEdit:
			absorbs[i] = l.Action == ActionEdit || inFoldRun
			inFoldRun = false
		}
	}

	for i, l := range lines {
		if l.Action != ActionMesg {
			continue
		}
		if i == 0 || !absorbs[i-1] {
			return wterr.New(wterr.MissingCommit, fmt.Errorf("mesg at line %d must follow edit or a fold group", i+1))
		}
	}
	return nil
}

// RefNames extends rebase's derived refs with histedit's additional
// base-commit-ref.
type RefNames struct {
	rebase.RefNames
	BaseCommit string
}

// Derive builds histedit's ref names scoped to uuid.
func Derive(uuid string) RefNames {
	return RefNames{RefNames: rebase.Derive(uuid), BaseCommit: "refs/vctree/rebase/" + uuid + "/base-commit"}
}

// Prepare records base-commit-ref pointing at baseCommit. It plants no
// other ref: the derived refs shared with rebase come from rebase.Prepare.
func Prepare(refs *refstore.Store, head rebase.HeadSetter, baseCommit objstore.Hash, names RefNames) error {
	h, err := refs.Open(names.BaseCommit, true)
	if err != nil {
		return fmt.Errorf("histedit prepare: open base-commit-ref: %w", err)
	}
	if err := h.Alloc(baseCommit); err != nil {
		h.Unlock()
		return fmt.Errorf("histedit prepare: base-commit-ref: %w", err)
	}
	return h.Write("histedit: prepare")
}

// ReadScript reads and parses the script file under dotDir.
func ReadScript(dotDir string) ([]Line, error) {
	data, err := os.ReadFile(dotDir + "/" + ScriptFileName)
	if err != nil {
		return nil, fmt.Errorf("histedit: read script: %w", err)
	}
	return ParseScript(data)
}

// WriteScript serializes lines and writes them to the script file under
// dotDir, atomically.
func WriteScript(dotDir string, lines []Line) error {
	var buf bytes.Buffer
	for _, l := range lines {
		if l.Action == ActionMesg {
			fmt.Fprintf(&buf, "mesg %s\n", l.Text)
			continue
		}
		fmt.Fprintf(&buf, "%s %s\n", l.Action, l.Commit)
	}
	tmp := dotDir + "/." + ScriptFileName + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("histedit: write script: %w", err)
	}
	return os.Rename(tmp, dotDir+"/"+ScriptFileName)
}

// PendingMessage returns the override message queued by a mesg line
// immediately preceding index i in lines, or "" if none applies.
func PendingMessage(lines []Line, i int) string {
	if i == 0 || i > len(lines) {
		return ""
	}
	if lines[i-1].Action == ActionMesg {
		return lines[i-1].Text
	}
	return ""
}
