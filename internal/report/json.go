package report

import (
	"encoding/json"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatReadiness(rows []ServiceRow) (string, error) {
	return marshalJSON(rows)
}

func (f *JSONFormatter) FormatOrphans(rows []OrphanRow) (string, error) {
	return marshalJSON(rows)
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
