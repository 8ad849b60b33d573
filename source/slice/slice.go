package slice

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
	"cdsflow/source"
)

// sliceLinkRegexp matches the href of a disseminated credit slice archive on
// the dashboard page. Links appear in document order, newest first.
var sliceLinkRegexp = regexp.MustCompile(`href="([^"]*CFTC_SLICE_CREDITS[^"]*\.(?i:ZIP))"`)

// Reader is the archive-mode source adapter: it locates the latest credit
// slice ZIP on the dashboard, downloads it and decodes the CSV inside.
type Reader struct {
	config *config.Config
	client *source.Client
	log    *logger.Log
}

func NewReader(cfg *config.Config, client *source.Client) *Reader {
	return &Reader{
		config: cfg,
		client: client,
		log:    logger.GetLogger(),
	}
}

func (r *Reader) Mode() models.Mode {
	return models.ModeSlice
}

// Fetch downloads and decodes the most recent credit slice. A dashboard with
// no slice links, an empty archive or an unparsable CSV all yield an empty
// record set rather than an error; only the network fetch itself can fail.
func (r *Reader) Fetch(ctx context.Context) (*models.FetchResult, error) {
	log := r.log.WithComponent("slice_source")

	page, err := r.client.Get(ctx, r.config.Source.Slice.DashboardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch dashboard: %w", err)
	}

	link := findSliceLink(page, r.config.Source.Slice.DashboardURL)
	if link == "" {
		log.Warn("no credit slice files found on dashboard")
		return &models.FetchResult{}, nil
	}

	payload, err := r.client.Get(ctx, link, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch slice archive: %w", err)
	}
	logger.IncrementPayloadRead(len(payload))

	records, err := DecodeArchive(payload)
	if err != nil {
		// A corrupt archive is an upstream data issue, not a cycle abort.
		log.WithError(err).WithFields(logger.Fields{"url": link}).Warn("failed to decode slice archive")
		return &models.FetchResult{Payload: payload, Endpoint: link}, nil
	}

	log.WithFields(logger.Fields{
		"url":     link,
		"records": len(records),
	}).Info("downloaded credit slice")

	return &models.FetchResult{
		Records:  records,
		Payload:  payload,
		Endpoint: link,
	}, nil
}

// findSliceLink returns the first slice archive link on the page as an
// absolute URL, or "" when the page holds none.
func findSliceLink(page []byte, pageURL string) string {
	m := sliceLinkRegexp.FindSubmatch(page)
	if m == nil {
		return ""
	}
	href := string(m[1])

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return href
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// DecodeArchive opens a ZIP slice and parses the first CSV entry, in
// container order, into raw records keyed by the header row. Empty input
// yields an empty record set.
func DecodeArchive(payload []byte) ([]models.RawRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, nil
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	return decodeCSV(rc)
}

func decodeCSV(r io.Reader) ([]models.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []models.RawRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(models.RawRecord, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
