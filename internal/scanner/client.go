package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// maxBodyBytes caps how much of an upstream response is read
const maxBodyBytes = 8 << 20

// Fetcher retrieves transmissions newer than a cursor
type Fetcher interface {
	FetchBatch(ctx context.Context, sinceID int64) ([]AudioRecord, error)
}

// Client fetches transmission batches from the upstream scanner API
type Client struct {
	httpClient *http.Client
	baseURL    string
	limit      int
	logger     *logger.Logger
}

// NewClient creates a new scanner feed client
func NewClient(baseURL string, limit int, timeout time.Duration, logger *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		logger:  logger.Named("scanner-cli"),
	}
}

// batchURL builds <base>/scanner/last?last=<since>&limit=<limit>
func (c *Client) batchURL(sinceID int64) string {
	q := url.Values{}
	q.Set("last", strconv.FormatInt(sinceID, 10))
	q.Set("limit", strconv.Itoa(c.limit))
	return c.baseURL + "/scanner/last?" + q.Encode()
}

// FetchBatch fetches every transmission after sinceID, in upstream order. Items that
// cannot be parsed are skipped. On any transport or response error the batch is empty.
func (c *Client) FetchBatch(ctx context.Context, sinceID int64) ([]AudioRecord, error) {
	reqURL := c.batchURL(sinceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching scanner batch",
		logger.String("url", reqURL),
		logger.Int64("since_id", sinceID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse JSON: invalid document")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("failed to parse JSON: expected an array, got %s", doc.Type)
	}

	items := doc.Array()
	records := make([]AudioRecord, 0, len(items))
	for i, item := range items {
		rec, err := ParseRecord(item)
		if err != nil {
			c.logger.Warn("Skipping malformed transmission",
				logger.Int("index", i),
				logger.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		c.logger.Info("Fetched audio batch",
			logger.Int("count", len(records)),
			logger.Int64("max_id", MaxID(records)),
		)
	}

	return records, nil
}

// ParseRecord converts one raw upstream item into an AudioRecord
func ParseRecord(item gjson.Result) (AudioRecord, error) {
	if !item.IsObject() {
		return AudioRecord{}, fmt.Errorf("expected an object, got %s", item.Type)
	}

	id, err := parseID(item.Get("id"))
	if err != nil {
		return AudioRecord{}, err
	}

	rec := AudioRecord{ID: id}

	fields := []struct {
		key string
		def string
		dst *string
	}{
		{"url", "", &rec.URL},
		{"who_from", "-", &rec.WhoFrom},
		{"frequency", "-", &rec.Frequency},
		{"station_name", "-", &rec.StationName},
		{"airport", "-", &rec.Airport},
		{"position", "-", &rec.Position},
		{"voice_name", "-", &rec.VoiceName},
		{"from_userid", "-", &rec.FromUserID},
		{"flight_rules", "UNK", &rec.FlightRules},
	}
	for _, f := range fields {
		v, err := stringField(item, f.key, f.def)
		if err != nil {
			return AudioRecord{}, err
		}
		*f.dst = v
	}

	pilot, err := stringField(item, "pilot", "-")
	if err != nil {
		return AudioRecord{}, err
	}
	rec.Pilot = fmt.Sprintf("[%s] %s", rec.FlightRules, pilot)

	if rec.Lat, err = floatField(item, "lat"); err != nil {
		return AudioRecord{}, err
	}
	if rec.Lon, err = floatField(item, "lon"); err != nil {
		return AudioRecord{}, err
	}

	if stamp := item.Get("stamp"); stamp.Exists() && stamp.Type != gjson.Null {
		switch stamp.Type {
		case gjson.String:
			s := stamp.Str
			rec.Stamp = &s
		case gjson.Number:
			s := stamp.Raw
			rec.Stamp = &s
		default:
			return AudioRecord{}, fmt.Errorf("field stamp: unexpected %s", stamp.Type)
		}
	}

	if p := item.Get("priority"); p.Type == gjson.Number {
		rec.Priority = int(p.Int())
	}

	return rec, nil
}

// MaxID returns the largest ID in records, or 0 for an empty batch
func MaxID(records []AudioRecord) int64 {
	var highest int64
	for i, r := range records {
		if i == 0 || r.ID > highest {
			highest = r.ID
		}
	}
	return highest
}

func parseID(v gjson.Result) (int64, error) {
	switch v.Type {
	case gjson.Number:
		id, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field id: not an integer: %s", v.Raw)
		}
		return id, nil
	case gjson.String:
		id, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field id: not an integer: %q", v.Str)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("field id: missing or not a number")
	}
}

func stringField(item gjson.Result, key, def string) (string, error) {
	v := item.Get(key)
	switch v.Type {
	case gjson.Null:
		return def, nil
	case gjson.String:
		return v.Str, nil
	case gjson.Number:
		return v.Raw, nil
	default:
		return "", fmt.Errorf("field %s: unexpected %s", key, v.Type)
	}
}

func floatField(item gjson.Result, key string) (*float64, error) {
	v := item.Get(key)
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		f := v.Float()
		return &f, nil
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: not a number: %q", key, v.Str)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("field %s: unexpected %s", key, v.Type)
	}
}
