package testutil

import (
	"github.com/nbcheck/nbcheck/internal/notebook"
	"github.com/nbcheck/nbcheck/internal/output"
)

// NotebookBuilder assembles notebooks for tests without JSON round-trips.
type NotebookBuilder struct {
	nb        notebook.Notebook
	codeIndex int
}

// NewNotebook starts a builder.
func NewNotebook() *NotebookBuilder {
	return &NotebookBuilder{nb: notebook.Notebook{KernelName: "python3"}}
}

// CodeCell appends an executed code cell with the given stored outputs.
func (b *NotebookBuilder) CodeCell(source string, outputs ...output.Record) *NotebookBuilder {
	b.codeIndex++
	count := b.codeIndex
	b.nb.Cells = append(b.nb.Cells, notebook.Cell{
		Index:          len(b.nb.Cells),
		CodeIndex:      b.codeIndex,
		Type:           notebook.CellCode,
		Source:         source,
		ExecutionCount: &count,
		Outputs:        outputs,
	})
	return b
}

// UnrunCodeCell appends a code cell whose reference was never executed.
func (b *NotebookBuilder) UnrunCodeCell(source string, outputs ...output.Record) *NotebookBuilder {
	b.codeIndex++
	b.nb.Cells = append(b.nb.Cells, notebook.Cell{
		Index:     len(b.nb.Cells),
		CodeIndex: b.codeIndex,
		Type:      notebook.CellCode,
		Source:    source,
		Outputs:   outputs,
	})
	return b
}

// Tagged adds metadata tags to the most recently added cell.
func (b *NotebookBuilder) Tagged(tags ...string) *NotebookBuilder {
	last := len(b.nb.Cells) - 1
	b.nb.Cells[last].Tags = append(b.nb.Cells[last].Tags, tags...)
	return b
}

// Markdown appends a markdown cell.
func (b *NotebookBuilder) Markdown(source string) *NotebookBuilder {
	b.nb.Cells = append(b.nb.Cells, notebook.Cell{
		Index:  len(b.nb.Cells),
		Type:   notebook.CellMarkdown,
		Source: source,
	})
	return b
}

// Build returns the assembled notebook.
func (b *NotebookBuilder) Build() *notebook.Notebook {
	nb := b.nb
	return &nb
}

// StreamOut builds a stored stream output record.
func StreamOut(name, text string) output.Record {
	return output.Record{Kind: output.KindStream, StreamName: name, Text: text}
}

// ResultOut builds a stored execute_result record with text/plain content.
func ResultOut(plain string, count int) output.Record {
	return output.Record{
		Kind:           output.KindExecuteResult,
		Data:           map[string]string{"text/plain": plain},
		ExecutionCount: count,
	}
}

// DisplayOut builds a stored display_data record.
func DisplayOut(data map[string]string) output.Record {
	return output.Record{Kind: output.KindDisplayData, Data: data}
}

// ErrorOut builds a stored error record.
func ErrorOut(ename, evalue string, traceback ...string) output.Record {
	return output.Record{Kind: output.KindError, Ename: ename, Evalue: evalue, Traceback: traceback}
}
