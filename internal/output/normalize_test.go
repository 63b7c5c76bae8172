package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCoalescesStreams(t *testing.T) {
	events := []Record{
		{Kind: KindStream, StreamName: "stdout", Text: "a"},
		{Kind: KindStream, StreamName: "stdout", Text: "b"},
		{Kind: KindStream, StreamName: "stdout", Text: "c\n"},
	}

	out := Normalize(events)
	require.Len(t, out, 1, "adjacent same-stream records should merge")
	assert.Equal(t, "abc\n", out[0].Text)
	assert.Equal(t, "stdout", out[0].StreamName)
}

func TestNormalizeMergesInterleavedStreams(t *testing.T) {
	// Stream chunks arrive interleaved with other records. Each stream
	// collapses to one block at the position of its first chunk.
	events := []Record{
		{Kind: KindStream, StreamName: "stdout", Text: "out1"},
		{Kind: KindStream, StreamName: "stderr", Text: "err1"},
		{Kind: KindExecuteResult, Data: map[string]string{"text/plain": "42"}},
		{Kind: KindStream, StreamName: "stdout", Text: "out2"},
	}

	out := Normalize(events)
	require.Len(t, out, 3)
	assert.Equal(t, KindStream, out[0].Kind)
	assert.Equal(t, "out1out2", out[0].Text)
	assert.Equal(t, "err1", out[1].Text)
	assert.Equal(t, KindExecuteResult, out[2].Kind)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	events := []Record{
		{Kind: KindStream, StreamName: "stdout", Text: "x"},
		{Kind: KindStream, StreamName: "stdout", Text: "y"},
	}

	_ = Normalize(events)
	assert.Equal(t, "x", events[0].Text, "input records must not be modified")
	assert.Equal(t, "y", events[1].Text)
}

func TestNormalizeResolvesControlChars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "carriage return overwrites line prefix",
			in:   "progress 10%\rprogress 99%\ndone\n",
			want: "progress 99%\ndone\n",
		},
		{
			name: "crlf is preserved",
			in:   "line one\r\nline two\r\n",
			want: "line one\r\nline two\r\n",
		},
		{
			name: "backspace erases preceding character",
			in:   "abc\b\bxy",
			want: "axy",
		},
		{
			name: "repeated carriage returns keep last segment",
			in:   "1\r2\r3\n",
			want: "3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize([]Record{{Kind: KindStream, StreamName: "stdout", Text: tt.in}})
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Text)
		})
	}
}

func TestNormalizeNFC(t *testing.T) {
	// "é" as e + combining acute must equal the precomposed form.
	decomposed := "café\n"
	out := Normalize([]Record{{Kind: KindStream, StreamName: "stdout", Text: decomposed}})
	require.Len(t, out, 1)
	assert.Equal(t, "café\n", out[0].Text)
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Nil(t, Normalize([]Record{}))
}

func TestDecodeMIMEBundle(t *testing.T) {
	raw := map[string]json.RawMessage{
		"text/plain":       json.RawMessage(`["1", "2", "3"]`),
		"text/html":        json.RawMessage(`"<b>hi</b>"`),
		"application/json": json.RawMessage("{\n  \"a\": 1\n}"),
	}

	data := DecodeMIMEBundle(raw)
	assert.Equal(t, "123", data["text/plain"], "string lists join with no separator")
	assert.Equal(t, "<b>hi</b>", data["text/html"])
	assert.Equal(t, `{"a":1}`, data["application/json"], "JSON payloads keep compact form")
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindStream, KindExecuteResult, KindDisplayData, KindError} {
		assert.Equal(t, k, KindFromString(k.String()))
	}
	assert.Equal(t, Kind(0), KindFromString("pyout"))
}
