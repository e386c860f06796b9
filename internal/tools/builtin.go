package tools

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SearchFunc runs a web search and returns a text digest for the model.
type SearchFunc func(ctx context.Context, query string) (string, error)

// BuiltinOptions wires the builtin tools to their collaborators.
type BuiltinOptions struct {
	// Search backs get_weather and web_search. When nil, web_search is not
	// registered and get_weather reports that no weather source is configured.
	Search SearchFunc

	// HTTPClient is used by fetch_url.
	HTTPClient *http.Client

	// NewID returns the 8 hex digits of a fresh AI-ID. Defaults to uuid-derived digits.
	NewID func() string

	// Now defaults to time.Now.
	Now func() time.Time
}

type builtin struct {
	name        string
	handler     Handler
	description string
	params      []Parameter
}

var aiIDPattern = regexp.MustCompile(`^AI-[0-9A-F]{8}$`)

// RegisterBuiltins registers the Rainbow City tool set on r.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.NewID == nil {
		opts.NewID = randomIDDigits
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	registrations := []builtin{
		{
			name:        "generate_ai_id",
			handler:     generateAIID(opts.NewID),
			description: "Generate a unique Rainbow City AI-ID of the form AI-XXXXXXXX.",
			params: []Parameter{
				{Name: "name", Type: TypeString, Description: "Optional display name for the new AI", Optional: true},
			},
		},
		{
			name:        "generate_frequency",
			handler:     generateFrequency,
			description: "Derive the frequency number that belongs to an AI-ID.",
			params: []Parameter{
				{Name: "ai_id", Type: TypeString, Description: "AI-ID identifier, e.g. AI-7F3D2E1A"},
			},
		},
		{
			name:        "get_weather",
			handler:     getWeather(opts.Search),
			description: "Look up the weather for a city, optionally for a specific date.",
			params: []Parameter{
				{Name: "city", Type: TypeString, Description: "City name"},
				{Name: "date", Type: TypeString, Description: "Date such as 2025-05-01 or 'tomorrow'", Optional: true},
			},
		},
		{
			name:        "time_now",
			handler:     timeNow(opts.Now),
			description: "Return the current time in RFC3339 format.",
			params: []Parameter{
				{Name: "timezone", Type: TypeString, Description: "IANA time zone, e.g. Asia/Shanghai", Optional: true},
			},
		},
		{
			name:        "fetch_url",
			handler:     NewFetcher(opts.HTTPClient).Handle,
			description: "Fetch a web page over HTTP(S) and return its readable text.",
			params: []Parameter{
				{Name: "url", Type: TypeString, Description: "Absolute http or https URL"},
				{Name: "max_chars", Type: TypeInteger, Description: "Maximum characters to return", Optional: true},
			},
		},
	}

	if opts.Search != nil {
		registrations = append(registrations, builtin{
			name:        "web_search",
			handler:     webSearch(opts.Search),
			description: "Search the web for current information and return a short digest with sources.",
			params: []Parameter{
				{Name: "query", Type: TypeString, Description: "Search query"},
			},
		})
	}

	for _, reg := range registrations {
		if err := r.Register(reg.name, reg.handler, reg.description, reg.params); err != nil {
			return fmt.Errorf("register %s: %w", reg.name, err)
		}
	}
	return nil
}

func randomIDDigits() string {
	id := uuid.New()
	return strings.ToUpper(fmt.Sprintf("%x", id[:4]))
}

func generateAIID(newID func() string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		aiID := "AI-" + strings.ToUpper(newID())
		if !aiIDPattern.MatchString(aiID) {
			return nil, fmt.Errorf("generated malformed AI-ID %q", aiID)
		}
		if name := strings.TrimSpace(StringArg(args, "name")); name != "" {
			return map[string]string{"ai_id": aiID, "name": name}, nil
		}
		return aiID, nil
	}
}

// FrequencyNumber returns the frequency number for aiID. The mapping is a
// pure function of the AI-ID.
func FrequencyNumber(aiID string) (string, error) {
	aiID = strings.ToUpper(strings.TrimSpace(aiID))
	if !aiIDPattern.MatchString(aiID) {
		return "", fmt.Errorf("%q is not a valid AI-ID (expected AI-XXXXXXXX)", aiID)
	}
	sum := sha256.Sum256([]byte(aiID))
	band := binary.BigEndian.Uint16(sum[0:2]) % 1000
	channel := binary.BigEndian.Uint32(sum[2:6]) % 10000
	return fmt.Sprintf("FQ-%03d.%04d", band, channel), nil
}

func generateFrequency(ctx context.Context, args map[string]any) (any, error) {
	aiID := StringArg(args, "ai_id")
	freq, err := FrequencyNumber(aiID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"ai_id": strings.ToUpper(strings.TrimSpace(aiID)), "frequency": freq}, nil
}

func getWeather(search SearchFunc) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if search == nil {
			return nil, errors.New("no weather source configured")
		}
		city := strings.TrimSpace(StringArg(args, "city"))
		if city == "" {
			return nil, errors.New("city cannot be empty")
		}
		query := "weather forecast " + city
		if date := strings.TrimSpace(StringArg(args, "date")); date != "" {
			query += " " + date
		}
		digest, err := search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("weather lookup for %s: %w", city, err)
		}
		return digest, nil
	}
}

func webSearch(search SearchFunc) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query := strings.TrimSpace(StringArg(args, "query"))
		if query == "" {
			return nil, errors.New("query cannot be empty")
		}
		digest, err := search(ctx, query)
		if err != nil {
			return nil, err
		}
		return digest, nil
	}
}

func timeNow(now func() time.Time) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		t := now()
		if tz := strings.TrimSpace(StringArg(args, "timezone")); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			t = t.In(loc)
		}
		return t.Format(time.RFC3339), nil
	}
}
