package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// readRecipients parses a CSV with a header row. A "phone" column is required
// and "name" is optional; every other column becomes a template field.
func readRecipients(r io.Reader) ([]domain.Recipient, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("recipient file is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	phoneCol, nameCol := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		header[i] = h
		switch h {
		case "phone":
			phoneCol = i
		case "name":
			nameCol = i
		}
	}
	if phoneCol < 0 {
		return nil, errors.New(`recipient file has no "phone" column`)
	}

	var out []domain.Recipient
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if phoneCol >= len(rec) || strings.TrimSpace(rec[phoneCol]) == "" {
			continue
		}
		r := domain.Recipient{Phone: strings.TrimSpace(rec[phoneCol])}
		for i, v := range rec {
			if i == phoneCol || i >= len(header) || header[i] == "" {
				continue
			}
			v = strings.TrimSpace(v)
			if i == nameCol {
				r.Name = v
				continue
			}
			if v == "" {
				continue
			}
			if r.Fields == nil {
				r.Fields = map[string]string{}
			}
			r.Fields[header[i]] = v
		}
		out = append(out, r)
	}
	return out, nil
}

func readRecipientsFile(path string) ([]domain.Recipient, error) {
	if path == "-" {
		return readRecipients(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readRecipients(f)
}

// parseVars turns key=value pairs into a map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid var %q, want key=value", p)
		}
		vars[strings.TrimSpace(k)] = v
	}
	return vars, nil
}
