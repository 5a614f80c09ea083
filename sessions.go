package main

import (
	"net/http"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/whyrusleeping/plantdoc/diagnose"
)

const sessionCookie = "plantdoc_session"

var sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "plantdoc_sessions",
	Help: "Number of sessions held in memory",
})

// SessionStore keeps the most recently used sessions in memory. An evicted
// session simply starts over, warm-up included.
type SessionStore struct {
	cache *lru.Cache
}

func NewSessionStore(size int) (*SessionStore, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &SessionStore{cache: c}, nil
}

// Get returns the caller's session, creating one and setting the cookie if
// there is none.
func (ss *SessionStore) Get(c echo.Context) *diagnose.Session {
	if ck, err := c.Cookie(sessionCookie); err == nil {
		if v, ok := ss.cache.Get(ck.Value); ok {
			return v.(*diagnose.Session)
		}
	}

	sess := diagnose.NewSession(uuid.NewString())
	ss.cache.Add(sess.ID, sess)
	sessionsGauge.Set(float64(ss.cache.Len()))

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}
