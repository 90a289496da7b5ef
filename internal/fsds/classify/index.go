// Package classify joins numeric facts to their tag and presentation metadata
// and sorts them into balance-sheet, income-statement and cash-flow buckets.
package classify

import "github.com/sells-group/secfin/internal/fsds"

type tagKey struct{ tag, version string }

// TagIndex looks up tag metadata by (tag, version), falling back to the first
// row seen for the tag name when the version is unknown.
type TagIndex struct {
	byKey  map[tagKey]fsds.Tag
	byName map[string]fsds.Tag
}

// NewTagIndex returns an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{byKey: make(map[tagKey]fsds.Tag), byName: make(map[string]fsds.Tag)}
}

// Add indexes t. The first row for a key wins.
func (x *TagIndex) Add(t fsds.Tag) {
	k := tagKey{t.Tag, t.Version}
	if _, ok := x.byKey[k]; !ok {
		x.byKey[k] = t
	}
	if _, ok := x.byName[t.Tag]; !ok {
		x.byName[t.Tag] = t
	}
}

// Lookup returns the tag for (tag, version), or the first row for tag.
func (x *TagIndex) Lookup(tag, version string) (fsds.Tag, bool) {
	if t, ok := x.byKey[tagKey{tag, version}]; ok {
		return t, true
	}
	t, ok := x.byName[tag]
	return t, ok
}

// Len returns the number of distinct (tag, version) pairs.
func (x *TagIndex) Len() int { return len(x.byKey) }

type presKey struct{ adsh, tag string }

// placement is the part of a presentation entry the classifier reads.
type placement struct {
	stmt   string
	plabel string
}

// PresentationIndex looks up where a tag is presented in a submission.
// When a submission presents the same tag more than once (on several
// statements or lines) the first entry in pre.txt order wins. That tie-break
// follows file order only and carries no accounting meaning.
type PresentationIndex struct {
	m map[presKey]placement
}

// NewPresentationIndex returns an empty index.
func NewPresentationIndex() *PresentationIndex {
	return &PresentationIndex{m: make(map[presKey]placement)}
}

// Add indexes p unless (adsh, tag) is already present.
func (x *PresentationIndex) Add(p fsds.PresentationEntry) {
	k := presKey{p.ADSH, p.Tag}
	if _, ok := x.m[k]; ok {
		return
	}
	x.m[k] = placement{stmt: p.Stmt, plabel: p.PLabel}
}

// Lookup returns the statement code and display label for (adsh, tag).
func (x *PresentationIndex) Lookup(adsh, tag string) (stmt, plabel string, ok bool) {
	p, ok := x.m[presKey{adsh, tag}]
	return p.stmt, p.plabel, ok
}

// Len returns the number of indexed (adsh, tag) pairs.
func (x *PresentationIndex) Len() int { return len(x.m) }
