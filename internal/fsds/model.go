// Package fsds reads SEC Financial Statement Data Sets archives: the quarterly
// ZIPs holding sub.txt, num.txt, pre.txt and tag.txt.
package fsds

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// FileType identifies one of the four archive members.
type FileType string

// Archive members.
const (
	FileSub FileType = "sub"
	FileNum FileType = "num"
	FilePre FileType = "pre"
	FileTag FileType = "tag"
)

// FileTypes lists every member in the order the columnar path writes them.
var FileTypes = []FileType{FileSub, FilePre, FileTag, FileNum}

// Member returns the file name inside the archive, e.g. "num.txt".
func (ft FileType) Member() string { return string(ft) + ".txt" }

// ParseFileType accepts "num" or "num.txt".
func ParseFileType(s string) (FileType, error) {
	ft := FileType(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".txt"))
	switch ft {
	case FileSub, FileNum, FilePre, FileTag:
		return ft, nil
	}
	return "", eris.Errorf("fsds: unknown file type %q", s)
}

// Partition is one (year, quarter) slice of the data sets.
type Partition struct {
	Year    int
	Quarter int
}

// NewPartition validates year and quarter.
func NewPartition(year, quarter int) (Partition, error) {
	if year < 2009 || year > 9999 {
		return Partition{}, eris.Errorf("fsds: year %d out of range", year)
	}
	if quarter < 1 || quarter > 4 {
		return Partition{}, eris.Errorf("fsds: quarter %d out of range (1-4)", quarter)
	}
	return Partition{Year: year, Quarter: quarter}, nil
}

var partitionRe = regexp.MustCompile(`^(\d{4})[_-]?[qQ]([1-4])$`)

// ParsePartition parses "2024Q1", "2024q1", or "2024_Q1".
func ParsePartition(s string) (Partition, error) {
	m := partitionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Partition{}, eris.Errorf("fsds: invalid partition %q (want e.g. 2024Q1)", s)
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	return NewPartition(year, quarter)
}

// SourceID is the value stamped into every row's source_file column.
func (p Partition) SourceID() string { return fmt.Sprintf("%dQ%d", p.Year, p.Quarter) }

func (p Partition) String() string { return p.SourceID() }

// Next returns the following quarter.
func (p Partition) Next() Partition {
	if p.Quarter == 4 {
		return Partition{Year: p.Year + 1, Quarter: 1}
	}
	return Partition{Year: p.Year, Quarter: p.Quarter + 1}
}

// Before reports whether p sorts strictly before o.
func (p Partition) Before(o Partition) bool {
	return p.Year < o.Year || (p.Year == o.Year && p.Quarter < o.Quarter)
}

// RawKey is where the scraped archive lives.
func (p Partition) RawKey() string { return fmt.Sprintf("raw/%d_Q%d.zip", p.Year, p.Quarter) }

// ColumnarPrefix is the directory holding the partition's parquet tables.
func (p Partition) ColumnarPrefix() string { return "extracted/" + p.SourceID() + "/" }

// ColumnarKey is the parquet table for one member.
func (p Partition) ColumnarKey(ft FileType) string { return p.ColumnarPrefix() + string(ft) + ".parquet" }

// JSONPrefix is the directory holding the partition's financial documents.
func (p Partition) JSONPrefix() string {
	return fmt.Sprintf("JSON_Conversion/%d/q%d/", p.Year, p.Quarter)
}

// JSONKey is the financial document for one submission.
func (p Partition) JSONKey(adsh string) string { return p.JSONPrefix() + adsh + ".json" }

// Submission is one row of sub.txt.
type Submission struct {
	ADSH      string
	CIK       int64
	HasCIK    bool
	Name      string
	SIC       int64
	CountryBA string
	CityBA    string
	CountryMA string
	CityMA    string
	Form      string
	FY        int64
	HasFY     bool
	FP        string
	Period    time.Time // zero when missing or invalid
	Filed     time.Time
}

// Tag is one row of tag.txt.
type Tag struct {
	Tag      string
	Version  string
	Custom   bool
	Abstract bool
	Datatype string
	TLabel   string
	Doc      string
}

// PresentationEntry is one row of pre.txt.
type PresentationEntry struct {
	ADSH     string
	Report   int64
	Line     int64
	Stmt     string
	Tag      string
	Version  string
	PLabel   string
	Negating bool
}

// NumericFact is one row of num.txt.
type NumericFact struct {
	ADSH    string
	Tag     string
	Version string
	DDate   time.Time
	Qtrs    int64
	UOM     string
	Value   decimal.NullDecimal
	Coreg   string
}
