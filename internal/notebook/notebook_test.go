package notebook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbcheck/nbcheck/internal/output"
)

const sampleNotebook = `{
  "nbformat": 4,
  "nbformat_minor": 5,
  "metadata": {
    "kernelspec": {"name": "python3", "display_name": "Python 3"}
  },
  "cells": [
    {
      "cell_type": "markdown",
      "metadata": {},
      "source": ["# Title\n", "Some prose."]
    },
    {
      "cell_type": "code",
      "execution_count": 1,
      "metadata": {"tags": ["nbval-skip"]},
      "source": "print('hello')\n",
      "outputs": [
        {"output_type": "stream", "name": "stdout", "text": ["hello\n"]}
      ]
    },
    {
      "cell_type": "code",
      "execution_count": 2,
      "metadata": {},
      "source": ["1 ", "+ 1"],
      "outputs": [
        {
          "output_type": "execute_result",
          "execution_count": 2,
          "data": {"text/plain": ["2"]},
          "metadata": {}
        }
      ]
    },
    {
      "cell_type": "code",
      "execution_count": null,
      "metadata": {},
      "source": "unrun()",
      "outputs": []
    }
  ]
}`

func TestReadNotebook(t *testing.T) {
	nb, err := Read(strings.NewReader(sampleNotebook))
	require.NoError(t, err)

	assert.Equal(t, "python3", nb.KernelName)
	assert.Equal(t, 4, nb.FormatMajor)
	assert.Equal(t, 5, nb.FormatMinor)
	require.Len(t, nb.Cells, 4)

	md := nb.Cells[0]
	assert.Equal(t, CellMarkdown, md.Type)
	assert.Equal(t, "# Title\nSome prose.", md.Source, "multiline source joins with no separator")
	assert.Equal(t, 0, md.CodeIndex, "non-code cells carry no code index")

	first := nb.Cells[1]
	assert.Equal(t, CellCode, first.Type)
	assert.Equal(t, 1, first.CodeIndex)
	assert.Equal(t, []string{"nbval-skip"}, first.Tags)
	require.NotNil(t, first.ExecutionCount)
	assert.Equal(t, 1, *first.ExecutionCount)
	require.Len(t, first.Outputs, 1)
	assert.Equal(t, output.KindStream, first.Outputs[0].Kind)
	assert.Equal(t, "stdout", first.Outputs[0].StreamName)
	assert.Equal(t, "hello\n", first.Outputs[0].Text)

	second := nb.Cells[2]
	assert.Equal(t, 2, second.CodeIndex)
	assert.Equal(t, "1 + 1", second.Source)
	require.Len(t, second.Outputs, 1)
	assert.Equal(t, output.KindExecuteResult, second.Outputs[0].Kind)
	assert.Equal(t, "2", second.Outputs[0].Data["text/plain"])

	unrun := nb.Cells[3]
	assert.Nil(t, unrun.ExecutionCount, "null execution_count marks an unrun cell")
}

func TestCodeCells(t *testing.T) {
	nb, err := Read(strings.NewReader(sampleNotebook))
	require.NoError(t, err)

	code := nb.CodeCells()
	require.Len(t, code, 3)
	assert.Equal(t, 1, code[0].CodeIndex)
	assert.Equal(t, 3, code[2].CodeIndex)
	assert.Equal(t, 3, code[2].Index, "document index is preserved")
}

func TestReadRejectsUnsupportedFormat(t *testing.T) {
	_, err := Read(strings.NewReader(`{"nbformat": 3, "cells": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported notebook format version 3")
}

func TestReadRejectsUnknownOutputType(t *testing.T) {
	doc := `{
	  "nbformat": 4,
	  "cells": [
	    {
	      "cell_type": "code",
	      "execution_count": 1,
	      "metadata": {},
	      "source": "x",
	      "outputs": [{"output_type": "pyout"}]
	    }
	  ]
	}`
	_, err := Read(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output_type "pyout"`)
}

func TestReadRejectsMalformedJSON(t *testing.T) {
	_, err := Read(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestReadErrorOutput(t *testing.T) {
	doc := `{
	  "nbformat": 4,
	  "cells": [
	    {
	      "cell_type": "code",
	      "execution_count": 1,
	      "metadata": {},
	      "source": "raise ValueError('boom')",
	      "outputs": [
	        {
	          "output_type": "error",
	          "ename": "ValueError",
	          "evalue": "boom",
	          "traceback": ["Traceback (most recent call last)", "ValueError: boom"]
	        }
	      ]
	    }
	  ]
	}`
	nb, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, nb.Cells, 1)
	require.Len(t, nb.Cells[0].Outputs, 1)

	rec := nb.Cells[0].Outputs[0]
	assert.Equal(t, output.KindError, rec.Kind)
	assert.Equal(t, "ValueError", rec.Ename)
	assert.Equal(t, "boom", rec.Evalue)
	assert.Len(t, rec.Traceback, 2)
}
