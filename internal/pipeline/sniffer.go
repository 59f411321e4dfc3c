package pipeline

import (
	"strconv"
	"strings"
	"time"

	"go-dataset-pipeline/internal/model"
)

// Sniffer infers the type of a field from a sample of its raw values.
type Sniffer interface {
	// Sniff returns a field holding the inferred type, format and concept.
	// attachments lists the attachment paths known for the dataset.
	Sniff(values []string, attachments map[string]bool) model.Field
}

// DefaultSniffer picks the most restrictive type accepting every
// non-empty value, in the order boolean, integer, number, string.
type DefaultSniffer struct{}

var dateTimeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (DefaultSniffer) Sniff(values []string, attachments map[string]bool) model.Field {
	var nonEmpty []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return model.Field{Type: model.TypeString}
	}
	switch {
	case all(nonEmpty, isBoolean):
		return model.Field{Type: model.TypeBoolean}
	case all(nonEmpty, isInteger):
		return model.Field{Type: model.TypeInteger}
	case all(nonEmpty, isNumber):
		return model.Field{Type: model.TypeNumber}
	case all(nonEmpty, isDate):
		return model.Field{Type: model.TypeString, Format: model.FormatDate}
	case all(nonEmpty, isDateTime):
		return model.Field{Type: model.TypeString, Format: model.FormatDateTime}
	case len(attachments) > 0 && all(nonEmpty, func(v string) bool { return attachments[v] }):
		return model.Field{Type: model.TypeString, Format: model.FormatURIReference, RefersTo: model.ConceptDigitalDoc}
	}
	return model.Field{Type: model.TypeString}
}

func all(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func isBoolean(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}

func isInteger(v string) bool {
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isNumber(v string) bool {
	_, ok := parseNumber(v)
	return ok
}

// parseNumber accepts a decimal comma. NaN, infinities and hexadecimal
// notations are refused.
func parseNumber(v string) (float64, bool) {
	v = strings.Replace(strings.TrimSpace(v), ",", ".", 1)
	if strings.ContainsAny(v, "xXnN") {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func isDate(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

func isDateTime(v string) bool {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
