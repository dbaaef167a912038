package tariff

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ImportFile is the YAML document accepted by the tariff importer.
//
//	categories:
//	  - code: RES
//	    name: Residential
//	    bands:
//	      - {order: 1, from_kwh: "0", to_kwh: "100", rate_per_kwh: "0.18", fixed_charge: "10"}
//	      - {order: 2, from_kwh: "100", rate_per_kwh: "0.30"}
type ImportFile struct {
	Entries []importCategory `yaml:"categories"`
}

type importCategory struct {
	Code        string       `yaml:"code"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Bands       []importBand `yaml:"bands"`
}

type importBand struct {
	Order       int    `yaml:"order"`
	FromKwh     string `yaml:"from_kwh"`
	ToKwh       string `yaml:"to_kwh"`
	RatePerKwh  string `yaml:"rate_per_kwh"`
	FixedCharge string `yaml:"fixed_charge"`
}

// ImportCategory is a validated category from an import file.
type ImportCategory struct {
	Code        string
	Name        string
	Description string
	Bands       []Band
}

// ParseImport decodes a YAML import document.
func ParseImport(r io.Reader) (ImportFile, error) {
	var file ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return ImportFile{}, fmt.Errorf("%w: parse yaml: %v", ErrInvalidInput, err)
	}
	return file, nil
}

// Categories converts and validates every category in the file.
func (f ImportFile) Categories() ([]ImportCategory, error) {
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("%w: import file has no categories", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(f.Entries))
	out := make([]ImportCategory, 0, len(f.Entries))
	for _, c := range f.Entries {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" || strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: category code and name are required", ErrInvalidInput)
		}
		if seen[code] {
			return nil, fmt.Errorf("%w: category %s listed twice", ErrInvalidInput, code)
		}
		seen[code] = true
		bands := make([]Band, 0, len(c.Bands))
		for _, b := range c.Bands {
			band, err := b.toBand()
			if err != nil {
				return nil, fmt.Errorf("%w: category %s band %d: %v", ErrInvalidInput, code, b.Order, err)
			}
			bands = append(bands, band)
		}
		if err := ValidateBands(bands); err != nil {
			return nil, fmt.Errorf("category %s: %w", code, err)
		}
		out = append(out, ImportCategory{Code: code, Name: strings.TrimSpace(c.Name), Description: c.Description, Bands: bands})
	}
	return out, nil
}

func (b importBand) toBand() (Band, error) {
	from, err := parseDecimal(b.FromKwh, "0")
	if err != nil {
		return Band{}, err
	}
	rate, err := parseDecimal(b.RatePerKwh, "")
	if err != nil {
		return Band{}, err
	}
	fixed, err := parseDecimal(b.FixedCharge, "0")
	if err != nil {
		return Band{}, err
	}
	band := Band{Order: b.Order, FromKwh: from, RatePerKwh: rate, FixedCharge: fixed}
	if strings.TrimSpace(b.ToKwh) != "" {
		to, err := decimal.NewFromString(strings.TrimSpace(b.ToKwh))
		if err != nil {
			return Band{}, err
		}
		band.ToKwh = &to
	}
	return band, nil
}

func parseDecimal(raw, fallback string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("value required")
	}
	return decimal.NewFromString(raw)
}
