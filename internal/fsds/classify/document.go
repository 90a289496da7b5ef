package classify

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/secfin/internal/fsds"
)

// ErrInvalidPeriod means a submission's period is missing or not a real date.
// The submission is skipped since the period dates the document.
var ErrInvalidPeriod = errors.New("classify: invalid period")

// UnknownValue fills missing symbol, country and city fields.
const UnknownValue = "UNKNOWN"

const dateLayout = "2006-01-02"

// FinancialDocument is the JSON document written per submission. Field order
// is the serialized key order.
type FinancialDocument struct {
	Quarter   string  `json:"quarter"`
	Country   string  `json:"country"`
	Data      Buckets `json:"data"`
	Year      int64   `json:"year"`
	Name      string  `json:"name"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
	Symbol    string  `json:"symbol"`
	City      string  `json:"city"`
}

// BuildDocument combines submission metadata, the resolved ticker symbol and
// the classified buckets.
func BuildDocument(sub fsds.Submission, symbol string, b Buckets) (*FinancialDocument, error) {
	if sub.Period.IsZero() {
		return nil, eris.Wrapf(ErrInvalidPeriod, "submission %s", sub.ADSH)
	}
	period := sub.Period.Format(dateLayout)

	if b.BS == nil {
		b.BS = []Record{}
	}
	if b.CF == nil {
		b.CF = []Record{}
	}
	if b.IC == nil {
		b.IC = []Record{}
	}

	doc := &FinancialDocument{
		Quarter:   sub.FP,
		Country:   orUnknown(sub.CountryMA),
		Data:      b,
		Name:      sub.Name,
		StartDate: period,
		EndDate:   period,
		Symbol:    orUnknown(symbol),
		City:      orUnknown(sub.CityMA),
	}
	if sub.HasFY {
		doc.Year = sub.FY
	}
	return doc, nil
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
