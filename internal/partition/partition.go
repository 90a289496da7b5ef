// Package partition finds the most recent year/quarter partition under a
// storage prefix such as "JSON_Conversion/".
package partition

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrNoPartitionFound means a level of the tree had no children.
var ErrNoPartitionFound = errors.New("partition: no partition found")

// Lister lists immediate child prefixes. blob.Store satisfies it.
type Lister interface {
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// Latest is the resolved partition.
type Latest struct {
	Year    string `json:"year"`
	Quarter string `json:"quarter"`
}

// Prefix returns "{root}/{year}/{quarter}/".
func (l Latest) Prefix(root string) string {
	return join(root, l.Year) + l.Quarter + "/"
}

// Resolve returns the greatest year under root and the greatest quarter under
// that year.
func Resolve(ctx context.Context, lister Lister, root string) (Latest, error) {
	rootPrefix := strings.Trim(root, "/")
	if rootPrefix != "" {
		rootPrefix += "/"
	}
	years, err := lister.ListPrefixes(ctx, rootPrefix)
	if err != nil {
		return Latest{}, eris.Wrapf(err, "partition: list %s", rootPrefix)
	}
	year, ok := Greatest(years)
	if !ok {
		return Latest{}, eris.Wrapf(ErrNoPartitionFound, "no years under %q", root)
	}

	yearPrefix := join(root, year)
	quarters, err := lister.ListPrefixes(ctx, yearPrefix)
	if err != nil {
		return Latest{}, eris.Wrapf(err, "partition: list %s", yearPrefix)
	}
	quarter, ok := Greatest(quarters)
	if !ok {
		return Latest{}, eris.Wrapf(ErrNoPartitionFound, "no quarters under %q", yearPrefix)
	}
	return Latest{Year: year, Quarter: quarter}, nil
}

// Greatest returns the largest name under natural ordering.
func Greatest(names []string) (string, bool) {
	var best string
	found := false
	for _, n := range names {
		n = strings.Trim(n, "/")
		if n == "" {
			continue
		}
		if !found || Compare(n, best) > 0 {
			best, found = n, true
		}
	}
	return best, found
}

// SortDesc sorts names greatest first under natural ordering.
func SortDesc(names []string) {
	slices.SortFunc(names, func(a, b string) int { return Compare(b, a) })
}

// Compare orders strings case-insensitively with digit runs compared by
// numeric value, so "q10" sorts after "q2". For fixed-width labels it agrees
// with plain string ordering.
func Compare(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		ca, cb := rune(a[0]), rune(b[0])
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			na, ra := digitRun(a)
			nb, rb := digitRun(b)
			if c := compareNumeric(na, nb); c != 0 {
				return c
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func digitRun(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

// compareNumeric compares two digit strings by value without parsing.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func join(root, name string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return name + "/"
	}
	return root + "/" + name + "/"
}
