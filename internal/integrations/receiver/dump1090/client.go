package dump1090

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/BearBump/FlightBox/internal/integrations/receiver"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var ErrThrottled = errors.New("receiver feed rate limit (429)")

// Client reads a dump1090/readsb aircraft.json endpoint.
type Client struct {
	url     string
	httpc   *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New paces requests to perMinute; perMinute <= 0 means unpaced.
func New(url string, perMinute int) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &Client{
		url:     url,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		limiter: lim,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type aircraftJSON struct {
	Now      float64    `json:"now"`
	Aircraft []aircraft `json:"aircraft"`
}

type aircraft struct {
	Hex      string   `json:"hex"`
	Flight   *string  `json:"flight"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	AltBaro  any      `json:"alt_baro"` // число или "ground"
	Track    *float64 `json:"track"`
	GS       *float64 `json:"gs"`
	BaroRate *float64 `json:"baro_rate"`
	SeenPos  *float64 `json:"seen_pos"`
	RSSI     *float64 `json:"rssi"`
}

func (c *Client) Fetch(ctx context.Context) ([]receiver.Report, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "wait feed limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrThrottled
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("receiver feed http %d", resp.StatusCode)
	}

	var body aircraftJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	base := c.now()
	if body.Now > 0 {
		sec, frac := math.Modf(body.Now)
		base = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	out := make([]receiver.Report, 0, len(body.Aircraft))
	for _, ac := range body.Aircraft {
		if ac.Lat == nil || ac.Lon == nil {
			continue
		}
		r := receiver.Report{
			Hex:          ac.Hex,
			Latitude:     *ac.Lat,
			Longitude:    *ac.Lon,
			Altitude:     altitude(ac.AltBaro),
			Heading:      deref(ac.Track),
			Speed:        deref(ac.GS),
			VerticalRate: deref(ac.BaroRate),
			SeenAt:       base,
		}
		if ac.Flight != nil {
			r.Callsign = *ac.Flight
		}
		if ac.SeenPos != nil {
			r.SeenAt = base.Add(-time.Duration(*ac.SeenPos * float64(time.Second)))
		}
		if ac.RSSI != nil {
			// dBFS -> доля полной шкалы
			s := math.Pow(10, *ac.RSSI/10)
			r.SignalStrength = &s
		}
		out = append(out, r)
	}
	return out, nil
}

func altitude(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
