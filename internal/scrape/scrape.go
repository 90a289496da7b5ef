// Package scrape discovers quarterly Financial Statement Data Sets archives
// on the SEC listing page and copies them into raw/ in the blob store.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fetcher"
	"github.com/sells-group/secfin/internal/fsds"
)

var (
	ErrNoArchives    = errors.New("scrape: no matching archives")
	ErrEmptyDownload = errors.New("scrape: empty download")
	ErrBlocked       = errors.New("scrape: blocked by sec.gov")
)

// DefaultListingURL is the SEC page linking every quarterly archive.
const DefaultListingURL = "https://www.sec.gov/data-research/sec-markets-data/financial-statement-data-sets"

const maxListingBytes = 8 << 20

var (
	textPartitionRe = regexp.MustCompile(`(\d{4})\s*[qQ]([1-4])\b`)
	filePartitionRe = regexp.MustCompile(`(?i)(\d{4})q([1-4])\.zip$`)
)

// Link is one archive found on the listing page.
type Link struct {
	Partition fsds.Partition
	URL       string
	Text      string
}

// Downloaded describes an archive copied into the store.
type Downloaded struct {
	Partition fsds.Partition `json:"partition"`
	Key       string         `json:"key"`
	Size      int64          `json:"size"`
}

// Scraper finds and downloads archives.
type Scraper struct {
	fetcher    fetcher.Fetcher
	store      blob.Store
	listingURL string
	tempDir    string
}

// New returns a Scraper reading listingURL (DefaultListingURL if empty) and
// staging downloads under tempDir.
func New(f fetcher.Fetcher, store blob.Store, listingURL, tempDir string) *Scraper {
	if listingURL == "" {
		listingURL = DefaultListingURL
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Scraper{fetcher: f, store: store, listingURL: listingURL, tempDir: tempDir}
}

// Discover fetches the listing page and returns its archive links, oldest first.
func (s *Scraper) Discover(ctx context.Context) ([]Link, error) {
	body, err := s.fetcher.Download(ctx, s.listingURL)
	if err != nil {
		return nil, blockedOr(err, "scrape: fetch listing")
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, maxListingBytes))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read listing")
	}
	if blocked, bt := DetectBlock(http.StatusOK, data); blocked {
		return nil, eris.Wrapf(ErrBlocked, "listing page (%s)", bt)
	}
	return ParseListing(bytes.NewReader(data), s.listingURL)
}

// ParseListing extracts .zip links whose text or file name identifies a
// year and quarter. Relative links resolve against base. The first link for
// a partition wins.
func ParseListing(r io.Reader, base string) ([]Link, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: parse base url %s", base)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse listing html")
	}

	var links []Link
	seen := make(map[fsds.Partition]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".zip") {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		p, ok := partitionFrom(text, path.Base(u.Path))
		if !ok || seen[p] {
			return
		}
		seen[p] = true
		links = append(links, Link{Partition: p, URL: baseURL.ResolveReference(u).String(), Text: text})
	})

	slices.SortFunc(links, func(a, b Link) int {
		switch {
		case a.Partition.Before(b.Partition):
			return -1
		case b.Partition.Before(a.Partition):
			return 1
		}
		return 0
	})
	return links, nil
}

func partitionFrom(text, file string) (fsds.Partition, bool) {
	m := textPartitionRe.FindStringSubmatch(text)
	if m == nil {
		m = filePartitionRe.FindStringSubmatch(file)
	}
	if m == nil {
		return fsds.Partition{}, false
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	p, err := fsds.NewPartition(year, quarter)
	return p, err == nil
}

// Select keeps links for year, and for quarter unless quarter is 0.
func Select(links []Link, year, quarter int) []Link {
	var out []Link
	for _, l := range links {
		if l.Partition.Year != year {
			continue
		}
		if quarter != 0 && l.Partition.Quarter != quarter {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Fetch downloads the archive for (year, quarter), or every quarter of year
// when quarter is 0, into raw/{year}_Q{quarter}.zip.
func (s *Scraper) Fetch(ctx context.Context, year, quarter int) ([]Downloaded, error) {
	links, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	matched := Select(links, year, quarter)
	if len(matched) == 0 {
		if quarter == 0 {
			return nil, eris.Wrapf(ErrNoArchives, "year %d", year)
		}
		return nil, eris.Wrapf(ErrNoArchives, "%d Q%d", year, quarter)
	}

	out := make([]Downloaded, 0, len(matched))
	for _, l := range matched {
		d, err := s.Download(ctx, l)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Download copies one archive into the store after checking it opens as a ZIP.
func (s *Scraper) Download(ctx context.Context, l Link) (Downloaded, error) {
	log := zap.L().With(zap.String("component", "scrape"), zap.String("partition", l.Partition.SourceID()))
	d := Downloaded{Partition: l.Partition, Key: l.Partition.RawKey()}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return d, eris.Wrapf(err, "scrape: create temp dir %s", s.tempDir)
	}
	tmp, err := os.CreateTemp(s.tempDir, l.Partition.SourceID()+"-*.zip")
	if err != nil {
		return d, eris.Wrap(err, "scrape: create temp file")
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(name) //nolint:errcheck

	log.Info("downloading archive", zap.String("url", l.URL))
	n, err := s.fetcher.DownloadToFile(ctx, l.URL, name)
	if err != nil {
		return d, blockedOr(err, "scrape: download "+l.URL)
	}
	if n == 0 {
		return d, eris.Wrapf(ErrEmptyDownload, "%s", l.URL)
	}
	if err := checkArchive(name); err != nil {
		return d, eris.Wrapf(err, "scrape: %s", l.URL)
	}

	f, err := os.Open(name)
	if err != nil {
		return d, eris.Wrap(err, "scrape: reopen download")
	}
	defer f.Close() //nolint:errcheck

	if err := s.store.Put(ctx, d.Key, f, n); err != nil {
		return d, eris.Wrapf(err, "scrape: put %s", d.Key)
	}
	d.Size = n
	log.Info("archive stored", zap.String("key", d.Key), zap.String("size", humanize.Bytes(uint64(n))))
	return d, nil
}

// checkArchive opens the file as a ZIP. A file that does not open is checked
// for a block page so the caller sees why.
func checkArchive(name string) error {
	zr, err := fetcher.OpenZIP(name)
	if err == nil {
		return zr.Close()
	}
	f, ferr := os.Open(name)
	if ferr != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	head, _ := io.ReadAll(io.LimitReader(f, 4096))
	if blocked, bt := DetectBlock(http.StatusOK, head); blocked {
		return eris.Wrapf(ErrBlocked, "download (%s)", bt)
	}
	return err
}

func blockedOr(err error, msg string) error {
	var se *fetcher.StatusError
	if errors.As(err, &se) {
		if blocked, bt := DetectBlock(se.StatusCode, se.Body); blocked {
			return eris.Wrapf(ErrBlocked, "%s: status %d (%s)", msg, se.StatusCode, bt)
		}
	}
	return eris.Wrap(err, msg)
}
