package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
	"cdsflow/source"
)

// endpointPatterns is the ordered list of expressions used to pull API paths
// out of the dashboard's markup and script text. Discovery is a best-effort
// parse; the static fallback endpoint always remains available.
var endpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`fetch\("([^"]*/api/[^"]*)"`),
	regexp.MustCompile(`"(/ppd/api/[^"]*)"`),
}

// containerKeys are tried in priority order when the response nests its
// record list under a wrapper object.
var containerKeys = []string{"data", "trades", "records", "results"}

// Reader is the JSON-API source adapter. Records returned by the endpoint are
// treated as in-scope: the request parameters already narrow the result to
// the subject product and region, so no further entity filter is applied to
// this mode.
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
	return models.ModeAPI
}

// Fetch discovers candidate endpoints and tries them in order, stopping at
// the first one that yields any records.
func (r *Reader) Fetch(ctx context.Context) (*models.FetchResult, error) {
	log := r.log.WithComponent("api_source")

	endpoints := r.DiscoverEndpoints(ctx)
	max := r.config.Source.API.MaxEndpoints
	if max > 0 && len(endpoints) > max {
		endpoints = endpoints[:max]
	}

	apiCfg := r.config.Source.API
	params := url.Values{
		"product":   {apiCfg.Product},
		"region":    {apiCfg.Region},
		"limit":     {strconv.Itoa(apiCfg.Limit)},
		"sortBy":    {"executionTimestamp"},
		"sortOrder": {"desc"},
	}

	var lastErr error
	failed := 0
	for _, endpoint := range endpoints {
		body, err := r.client.Get(ctx, endpoint, params)
		if err != nil {
			lastErr = err
			failed++
			log.WithError(err).WithFields(logger.Fields{"endpoint": endpoint}).Warn("endpoint fetch failed")
			continue
		}
		logger.IncrementPayloadRead(len(body))

		records := ExtractRecords(body)
		if len(records) == 0 {
			log.WithFields(logger.Fields{"endpoint": endpoint}).Debug("endpoint returned no records")
			continue
		}

		log.WithFields(logger.Fields{
			"endpoint": endpoint,
			"records":  len(records),
		}).Info("fetched trades from api endpoint")

		return &models.FetchResult{
			Records:  records,
			Payload:  body,
			Endpoint: endpoint,
		}, nil
	}

	// Only when every candidate failed is the cycle itself a fetch failure;
	// an endpoint that answered with no records is ordinary no-data.
	if failed == len(endpoints) && lastErr != nil {
		return nil, fmt.Errorf("fetch trades: %w", lastErr)
	}
	return &models.FetchResult{}, nil
}

// DiscoverEndpoints scans the dashboard page for embedded API paths. When the
// page cannot be fetched or no paths are found it returns only the configured
// static fallback; failure to discover is a normal, logged condition.
func (r *Reader) DiscoverEndpoints(ctx context.Context) []string {
	log := r.log.WithComponent("api_source")
	apiCfg := r.config.Source.API

	page, err := r.client.Get(ctx, apiCfg.BaseURL+apiCfg.DashboardPath, nil)
	if err != nil {
		log.WithError(err).Warn("endpoint discovery failed; using fallback endpoint")
		return []string{apiCfg.DefaultEndpoint}
	}

	endpoints := extractEndpoints(page, apiCfg.BaseURL)
	if len(endpoints) == 0 {
		log.Warn("no api endpoints discovered; using fallback endpoint")
		return []string{apiCfg.DefaultEndpoint}
	}

	log.WithFields(logger.Fields{"endpoints": endpoints}).Info("discovered api endpoints")
	return endpoints
}

// extractEndpoints applies the discovery patterns in order, resolves relative
// paths against the base URL and returns distinct absolute URLs preserving
// first-seen order.
func extractEndpoints(page []byte, baseURL string) []string {
	seen := make(map[string]struct{})
	var endpoints []string
	for _, pattern := range endpointPatterns {
		for _, m := range pattern.FindAllSubmatch(page, -1) {
			endpoint := string(m[1])
			if strings.HasPrefix(endpoint, "/") {
				endpoint = baseURL + endpoint
			}
			if _, ok := seen[endpoint]; ok {
				continue
			}
			seen[endpoint] = struct{}{}
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints
}

// ExtractRecords locates the record list in a response body. Wrapper objects
// are probed with the candidate container keys in priority order; a body that
// is itself a JSON array is taken as the list. Unparsable input yields an
// empty set.
func ExtractRecords(body []byte) []models.RawRecord {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}

	switch v := decoded.(type) {
	case []any:
		return toRecords(v)
	case map[string]any:
		for _, key := range containerKeys {
			if list, ok := v[key].([]any); ok {
				return toRecords(list)
			}
		}
	}
	return nil
}

func toRecords(list []any) []models.RawRecord {
	records := make([]models.RawRecord, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, models.RawRecord(obj))
		}
	}
	return records
}
