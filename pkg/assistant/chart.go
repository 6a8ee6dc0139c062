package assistant

import (
	"encoding/json"
	"fmt"

	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// Trace keys whose string values name a frame column.
var columnKeys = []string{"x", "y", "z", "labels", "values", "text", "ids", "parents"}

type figure struct {
	Data   []map[string]any `json:"data"`
	Layout map[string]any   `json:"layout,omitempty"`
}

// GetPlotlyFigure binds f into a figure template produced by GeneratePlotlyCode.
// A string under x, y, labels and the other data keys that names a column is
// replaced by that column's values. An empty or unparseable template falls
// back to a default chart picked from the column types.
func (a *Assistant) GetPlotlyFigure(code string, f *models.Frame) (json.RawMessage, error) {
	if f == nil {
		return nil, fmt.Errorf("plot: no data")
	}
	fig, err := parseFigure(code)
	if err != nil {
		logx.Warn().Err(err).Msg("figure template unusable, using default chart")
		fig = defaultFigure(f)
	}
	for _, trace := range fig.Data {
		bindColumns(trace, f)
	}
	out, err := json.Marshal(fig)
	if err != nil {
		return nil, fmt.Errorf("encode figure: %w", err)
	}
	return out, nil
}

func parseFigure(code string) (figure, error) {
	var fig figure
	body := jsonObject(code)
	if body == "" {
		return fig, fmt.Errorf("no figure object in template")
	}
	if err := json.Unmarshal([]byte(body), &fig); err != nil {
		return fig, fmt.Errorf("decode figure: %w", err)
	}
	if len(fig.Data) == 0 {
		return fig, fmt.Errorf("figure has no traces")
	}
	return fig, nil
}

func bindColumns(trace map[string]any, f *models.Frame) {
	for _, key := range columnKeys {
		name, ok := trace[key].(string)
		if !ok {
			continue
		}
		if i := f.ColumnIndex(name); i >= 0 {
			trace[key] = f.ColumnValues(i)
		}
	}
}

// defaultFigure picks a chart from column types: an indicator for a single
// value, a bar chart for category vs number, a scatter of two numbers, and a
// line of the first numeric column otherwise.
func defaultFigure(f *models.Frame) figure {
	var numeric, other []string
	for i, c := range f.Columns {
		if f.IsNumeric(i) {
			numeric = append(numeric, c.Name)
		} else {
			other = append(other, c.Name)
		}
	}

	switch {
	case len(f.Columns) == 1 && f.Len() == 1:
		return figure{Data: []map[string]any{{"type": "indicator", "mode": "number", "value": f.Rows[0][0]}}}
	case len(numeric) >= 1 && len(other) >= 1:
		return figure{
			Data:   []map[string]any{{"type": "bar", "x": other[0], "y": numeric[0]}},
			Layout: map[string]any{"xaxis": map[string]any{"title": other[0]}, "yaxis": map[string]any{"title": numeric[0]}},
		}
	case len(numeric) >= 2:
		return figure{
			Data:   []map[string]any{{"type": "scatter", "mode": "markers", "x": numeric[0], "y": numeric[1]}},
			Layout: map[string]any{"xaxis": map[string]any{"title": numeric[0]}, "yaxis": map[string]any{"title": numeric[1]}},
		}
	case len(numeric) == 1:
		return figure{Data: []map[string]any{{"type": "scatter", "mode": "lines", "y": numeric[0]}}}
	default:
		header := make([]string, len(f.Columns))
		cells := make([][]any, len(f.Columns))
		for i, c := range f.Columns {
			header[i] = c.Name
			cells[i] = f.ColumnValues(i)
		}
		return figure{Data: []map[string]any{{
			"type":   "table",
			"header": map[string]any{"values": header},
			"cells":  map[string]any{"values": cells},
		}}}
	}
}
