package report

import (
	"strings"

	"gopkg.in/yaml.v3"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatReadiness(rows []ServiceRow) (string, error) {
	return marshalYAML(rows)
}

func (f *YAMLFormatter) FormatOrphans(rows []OrphanRow) (string, error) {
	return marshalYAML(rows)
}

func marshalYAML(v interface{}) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
