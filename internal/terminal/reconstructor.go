package terminal

import (
	"regexp"
	"strings"
)

// ansiEscape matches CSI sequences and backspaces in shell output, used when
// absorbing history-recall echoes back into the command line.
var ansiEscape = regexp.MustCompile(`(?:\x1B[@-_]|[\x80-\x9F])[0-?]*[ -/]*[@-~]|\x08`)

// Reconstructor rebuilds the command line a user is typing from the raw
// input tokens the terminal emits. It is a deliberate simplification: it
// interprets the handful of control keys an interactive shell user actually
// produces and cannot perfectly reconstruct every terminal. Cursor value 0
// means "at the right end of the line".
//
// Known quirk kept for parity with the recorded behavior of deployed
// gateways: "end of line" jumps (ctrl-E, left-arrow wrap) land on
// len(line)-2, not len(line)-1.
type Reconstructor struct {
	History []string // completed command lines
	Current string   // line under construction; never contains '\r'
	Cursor  int      // 0 = right end, >0 = offset from the left

	// TabPending absorbs the next backend chunk as a TAB completion.
	// HistoryPending replaces the line with the next (ANSI-stripped) chunk.
	TabPending     bool
	HistoryPending bool
}

// Feed consumes one client input token and updates the line state.
func (r *Reconstructor) Feed(t string) {
	switch t {
	case "\r":
		r.Cursor = 0
		if strings.TrimSpace(r.Current) != "" {
			r.History = append(r.History, r.Current)
			r.Current = ""
		}
	case "\x07": // bell, nothing to reconstruct
	case "\x03", "\x01": // ctrl-C, ctrl-A
		r.Cursor = 0
	case "\x05": // ctrl-E
		r.Cursor = endCursor(r.Current)
	case "\x1b[D": // left arrow
		if r.Cursor == 0 {
			r.Cursor = endCursor(r.Current)
		} else {
			r.Cursor--
		}
	case "\x1b[C": // right arrow
		r.Cursor++
	case "\x7f": // backspace
		runes := []rune(r.Current)
		switch {
		case len(runes) == 0:
		case r.Cursor == 0:
			r.Current = string(runes[:len(runes)-1])
		case r.Cursor < len(runes):
			r.Current = string(runes[:r.Cursor]) + string(runes[r.Cursor+1:])
		}
	case "\t", "\x1b": // TAB, or double-ESC completion
		r.TabPending = true
	case "\x1b[A", "\x1b[B": // history recall
		r.HistoryPending = true
	default:
		if r.Cursor == 0 {
			r.Current += t
		} else {
			runes := []rune(r.Current)
			at := r.Cursor
			if at > len(runes) {
				at = len(runes)
			}
			r.Current = string(runes[:at]) + t + string(runes[at:])
		}
	}
}

// AbsorbTab merges a TAB-completion echo from the backend into the current
// line: the leading token of the chunk, with bell bytes removed, is the
// completion fragment.
func (r *Reconstructor) AbsorbTab(chunk string) {
	parts := strings.Split(chunk, " ")
	switch {
	case len(parts) == 2 && parts[1] == "" && parts[0] != "":
		r.Current += strings.ReplaceAll(parts[0], "\x07", "")
	case len(parts) == 1 && parts[0] != "\x07":
		r.Current += strings.ReplaceAll(parts[0], "\x07", "")
	}
	r.TabPending = false
}

// AbsorbHistory replaces the current line with a history-recall echo from
// the backend, stripped of ANSI sequences and backspaces.
func (r *Reconstructor) AbsorbHistory(chunk string) {
	r.Cursor = 0
	if strings.TrimSpace(chunk) != "" {
		r.Current = ansiEscape.ReplaceAllString(chunk, "")
	}
	r.HistoryPending = false
}

// endCursor is the quirky "right end" cursor position.
func endCursor(line string) int {
	n := len([]rune(line)) - 2
	if n < 0 {
		return 0
	}
	return n
}

// RedactEditorSession removes the interactive-editor portion of a command
// history: everything between a "vi" invocation (or an "fg" resumption,
// which wins when present) and the closing ":wq"/":q"/":q!" is dropped,
// keeping the anchor entry itself. Ctrl-Z suspension markers are collapsed
// to the text typed after them. An anchor in the very first history slot is
// not recognized, matching the behavior this is ported from.
func RedactEditorSession(cmds []string) []string {
	quitKeys := []string{":wq", ":q", ":q!"}

	viIdx, fgIdx, quitIdx := 0, 0, 0
	quitFound := false
	for i, v := range cmds {
		if strings.Contains(v, "vi") {
			viIdx = i
		}
		for _, k := range quitKeys {
			if strings.Contains(v, k) {
				quitIdx = i
				quitFound = true
				break
			}
		}
		if strings.Contains(v, "\x1a") {
			cmds[i] = strings.SplitN(v, "\x1a", 3)[1]
		}
		if strings.Contains(v, "fg") {
			fgIdx = i
		}
	}

	first := fgIdx
	if first == 0 {
		first = viIdx
	}
	if viIdx != 0 && quitFound {
		out := make([]string, 0, len(cmds))
		out = append(out, cmds[:first+1]...)
		if quitIdx+1 < len(cmds) {
			out = append(out, cmds[quitIdx+1:]...)
		}
		return out
	}
	return cmds
}
