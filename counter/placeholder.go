package counter

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Placeholder supplies a stand-in count when no backend is configured. The
// value is not a real counter and may differ between calls.
type Placeholder interface {
	Views(ctx context.Context, subject string) int64
}

// LocalRandom draws a number in [0, Max) without any network call.
type LocalRandom struct {
	Max int64 // 0 => 100
}

func (l LocalRandom) Views(context.Context, string) int64 {
	max := l.Max
	if max <= 0 {
		max = 100
	}
	return rand.Int64N(max)
}

// DefaultRandomAPI returns a JSON array with one random integer.
const DefaultRandomAPI = "https://www.randomnumberapi.com/api/v1.0/random"

// RandomAPI asks a remote random number service. Any failure yields 0.
type RandomAPI struct {
	URL    string       // "" => DefaultRandomAPI
	Client *http.Client // nil => 2s timeout client
}

func (r RandomAPI) Views(ctx context.Context, _ string) int64 {
	u := r.URL
	if u == "" {
		u = DefaultRandomAPI
	}
	hc := r.Client
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return 0
	}
	first := gjson.GetBytes(body, "0")
	if first.Type != gjson.Number {
		return 0
	}
	return first.Int()
}
