package collector

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vxikit/vxidash/model"
)

var csvHeader = []string{
	"timestamp", "setup_id", "setup_name", "instrument_name",
	"mode", "signal", "value", "raw_value", "unit", "error",
}

// WriteCSV flattens readings to CSV, one row per signal sample. End-state
// records emit a single row with the state name in the signal column.
func WriteCSV(w io.Writer, readings []model.Reading) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, reading := range readings {
		base := []string{
			reading.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(reading.SetupID, 10),
			reading.SetupName,
			reading.InstrumentName,
			reading.Mode,
		}

		rows := readingRows(reading)
		for _, row := range rows {
			if err := cw.Write(append(append([]string{}, base...), row...)); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	cw.Flush()

	return cw.Error()
}

// readingRows returns the signal/value/raw/unit/error column groups for one
// reading.
func readingRows(reading model.Reading) [][]string {
	if reading.EndState != nil {
		return [][]string{{"end_state:" + reading.EndState.StateName, "", "", "", ""}}
	}
	if reading.Error != "" {
		return [][]string{{"", "", "", "", reading.Error}}
	}

	var rows [][]string
	for name, sample := range reading.Readings {
		value := ""
		if sample.Value != nil {
			value = strconv.FormatFloat(*sample.Value, 'g', -1, 64)
		}
		rows = append(rows, []string{
			name,
			value,
			strconv.FormatFloat(sample.RawValue, 'g', -1, 64),
			sample.Unit,
			sample.Error,
		})
	}

	return rows
}
