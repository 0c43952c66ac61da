package rod

import (
	"math"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/go-rod/rod/lib/proto"
)

func toCookieParams(cookies []domain.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if !c.Expires.IsZero() {
			param.Expires = toEpoch(c.Expires)
		}
		params = append(params, param)
	}
	return params
}

func fromNetworkCookies(cookies []*proto.NetworkCookie) []domain.Cookie {
	out := make([]domain.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		cookie := domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		// Session cookies report -1.
		if c.Expires > 0 {
			cookie.Expires = fromEpoch(c.Expires)
		}
		out = append(out, cookie)
	}
	return out
}

func toEpoch(t time.Time) proto.TimeSinceEpoch {
	return proto.TimeSinceEpoch(float64(t.UnixNano()) / float64(time.Second))
}

func fromEpoch(epoch proto.TimeSinceEpoch) time.Time {
	sec, frac := math.Modf(float64(epoch))
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
