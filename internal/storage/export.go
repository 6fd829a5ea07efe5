package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Run    RunMetadata          `json:"run"`
	Steps  int                  `json:"steps"`
	Series map[string][]float64 `json:"series"`
}

// Export writes a run and its recorded series as indented JSON. Columns not
// in keep are left out; an empty keep exports all of them.
func (s *Store) Export(w io.Writer, runID string, keep ...string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	series, err := s.LoadSeries(runID)
	if err != nil {
		return err
	}

	data := ExportData{Run: *meta, Steps: series.Len(), Series: series.Values}
	if len(keep) > 0 {
		data.Series = make(map[string][]float64, len(keep))
		for _, name := range keep {
			v, err := series.Get(name)
			if err != nil {
				return err
			}
			data.Series[name] = v
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
