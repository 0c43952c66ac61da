package domain

import "time"

type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
	SameSite string
}

type SessionRecord struct {
	AccountID      AccountID
	Cookies        []Cookie
	SavedAt        time.Time
	AbsoluteExpiry time.Time
	SessionExpiry  time.Time
	BoundProxy     string
	UseCount       int
}

func (r SessionRecord) AbsoluteExpired(now time.Time) bool {
	return !now.Before(r.AbsoluteExpiry)
}

func (r SessionRecord) Expired(now time.Time) bool {
	return r.AbsoluteExpired(now) || !now.Before(r.SessionExpiry)
}

// HasCookies reports whether every required cookie name is present with a value.
func (r SessionRecord) HasCookies(required []string) bool {
	if len(r.Cookies) == 0 {
		return false
	}

	present := make(map[string]struct{}, len(r.Cookies))
	for _, cookie := range r.Cookies {
		if cookie.Value == "" {
			continue
		}
		present[cookie.Name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := present[name]; !ok {
			return false
		}
	}

	return true
}

// BoundTo reports whether the session was captured behind proxy. Sessions saved
// without a proxy only match direct connections.
func (r SessionRecord) BoundTo(proxy string) bool {
	return r.BoundProxy == proxy
}

type SessionSummary struct {
	AccountID      AccountID
	Key            string
	SavedAt        time.Time
	AbsoluteExpiry time.Time
	SessionExpiry  time.Time
	BoundProxy     string
	UseCount       int
	CookieCount    int
	Valid          bool
}
