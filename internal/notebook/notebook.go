// Package notebook reads Jupyter notebook (nbformat v4) documents into the
// in-memory model the validation runner consumes. Notebooks are read-only
// inputs: nothing in this repository rewrites them.
package notebook

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nbcheck/nbcheck/internal/output"
)

// CellType is the notebook cell kind.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// Cell is one unit of notebook content.
type Cell struct {
	// Index is the zero-based position within the notebook document.
	Index int

	// CodeIndex is the one-based position among code cells only, matching
	// how cells are reported to users ("Code cell 3"). Zero for non-code
	// cells.
	CodeIndex int

	Type   CellType
	Source string

	// ExecutionCount is nil for cells whose reference run never executed.
	ExecutionCount *int

	// Tags is the metadata tag list (may be nil).
	Tags []string

	// Outputs holds the stored reference outputs in document order.
	Outputs []output.Record
}

// Notebook is an ordered sequence of cells. Cell order is execution order.
type Notebook struct {
	Path        string
	KernelName  string
	FormatMajor int
	FormatMinor int
	Cells       []Cell
}

// CodeCells returns the executable cells in source order.
func (nb *Notebook) CodeCells() []Cell {
	var cells []Cell
	for _, c := range nb.Cells {
		if c.Type == CellCode {
			cells = append(cells, c)
		}
	}
	return cells
}

// multilineText accepts the two encodings nbformat uses for text: a plain
// string or a list of string fragments joined with no separator.
type multilineText string

func (m *multilineText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multilineText(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*m = multilineText(strings.Join(parts, ""))
	return nil
}

// Raw nbformat v4 document shapes.
type rawNotebook struct {
	Cells         []rawCell       `json:"cells"`
	Metadata      rawNBMetadata   `json:"metadata"`
	NBFormat      int             `json:"nbformat"`
	NBFormatMinor int             `json:"nbformat_minor"`
}

type rawNBMetadata struct {
	KernelSpec struct {
		Name string `json:"name"`
	} `json:"kernelspec"`
}

type rawCell struct {
	CellType       string          `json:"cell_type"`
	Source         multilineText   `json:"source"`
	ExecutionCount *int            `json:"execution_count"`
	Metadata       rawCellMetadata `json:"metadata"`
	Outputs        []rawOutput     `json:"outputs"`
}

type rawCellMetadata struct {
	Tags []string `json:"tags"`
}

type rawOutput struct {
	OutputType     string                     `json:"output_type"`
	Name           string                     `json:"name"`
	Text           multilineText              `json:"text"`
	Data           map[string]json.RawMessage `json:"data"`
	ExecutionCount *int                       `json:"execution_count"`
	Ename          string                     `json:"ename"`
	Evalue         string                     `json:"evalue"`
	Traceback      []string                   `json:"traceback"`
}

// Read parses an nbformat v4 notebook from r.
func Read(r io.Reader) (*Notebook, error) {
	var raw rawNotebook
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	if raw.NBFormat != 0 && raw.NBFormat != 4 {
		return nil, fmt.Errorf("unsupported notebook format version %d (want 4)", raw.NBFormat)
	}

	nb := &Notebook{
		KernelName:  raw.Metadata.KernelSpec.Name,
		FormatMajor: raw.NBFormat,
		FormatMinor: raw.NBFormatMinor,
	}

	codeIndex := 0
	for i, rc := range raw.Cells {
		cell := Cell{
			Index:          i,
			Type:           CellType(rc.CellType),
			Source:         string(rc.Source),
			ExecutionCount: rc.ExecutionCount,
			Tags:           rc.Metadata.Tags,
		}
		if cell.Type == CellCode {
			codeIndex++
			cell.CodeIndex = codeIndex
			outputs, err := convertOutputs(rc.Outputs)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			cell.Outputs = outputs
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

// ReadFile parses the notebook at path.
func ReadFile(path string) (*Notebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open notebook: %w", err)
	}
	defer f.Close()

	nb, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	nb.Path = path
	return nb, nil
}

// convertOutputs maps stored outputs into canonical output records.
// Unknown output types are rejected rather than silently dropped, so a
// notebook written by a newer format revision fails loudly.
func convertOutputs(raws []rawOutput) ([]output.Record, error) {
	var records []output.Record
	for i, ro := range raws {
		kind := output.KindFromString(ro.OutputType)
		if kind == 0 {
			return nil, fmt.Errorf("output %d: unknown output_type %q", i, ro.OutputType)
		}
		rec := output.Record{Kind: kind}
		switch kind {
		case output.KindStream:
			rec.StreamName = ro.Name
			rec.Text = string(ro.Text)
		case output.KindExecuteResult, output.KindDisplayData:
			rec.Data = output.DecodeMIMEBundle(ro.Data)
			if ro.ExecutionCount != nil {
				rec.ExecutionCount = *ro.ExecutionCount
			}
		case output.KindError:
			rec.Ename = ro.Ename
			rec.Evalue = ro.Evalue
			rec.Traceback = ro.Traceback
		}
		records = append(records, rec)
	}
	return records, nil
}
