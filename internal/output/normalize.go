package output

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// carriageReturnPat matches a line prefix erased by a carriage return that is
// not part of a \r\n pair (progress bars, spinners).
var carriageReturnPat = regexp.MustCompile(`(?m)^.*\r([^\n])`)

// backspacePat matches a non-newline character cancelled by a following
// backspace.
var backspacePat = regexp.MustCompile("[^\n]\x08")

// Normalize converts a raw output event sequence into the canonical ordered
// record list used for comparison.
//
// All stream records sharing a name are merged into one logical block at the
// position of the first occurrence; each stream's own text stays internally
// ordered, while the relative order of unrelated streams collapses to first
// appearance. Coalesced stream text then has terminal control characters
// (\r, \b) resolved the way a terminal would render them, and every textual
// field is normalized to Unicode NFC so comparison is byte-for-byte on a
// canonical encoding form.
//
// The input slice is not modified.
func Normalize(events []Record) []Record {
	if len(events) == 0 {
		return nil
	}

	out := make([]Record, 0, len(events))
	streams := make(map[string]int) // stream name -> index in out
	for _, ev := range events {
		if ev.Kind != KindStream {
			out = append(out, ev.Clone())
			continue
		}
		if i, ok := streams[ev.StreamName]; ok {
			out[i].Text += ev.Text
			continue
		}
		streams[ev.StreamName] = len(out)
		out = append(out, ev.Clone())
	}

	for i := range out {
		switch out[i].Kind {
		case KindStream:
			out[i].Text = norm.NFC.String(resolveControlChars(out[i].Text))
		case KindExecuteResult, KindDisplayData:
			for mime, val := range out[i].Data {
				out[i].Data[mime] = norm.NFC.String(val)
			}
		case KindError:
			out[i].Ename = norm.NFC.String(out[i].Ename)
			out[i].Evalue = norm.NFC.String(out[i].Evalue)
		}
	}
	return out
}

// resolveControlChars applies backspace erasure until a fixed point, then
// drops line prefixes overwritten by carriage returns.
func resolveControlChars(text string) string {
	for {
		next := backspacePat.ReplaceAllString(text, "")
		if len(next) == len(text) {
			break
		}
		text = next
	}
	return carriageReturnPat.ReplaceAllString(text, "$1")
}
