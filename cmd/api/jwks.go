package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// jwksKeyfunc fetches the JWKS at url once and refreshes it every refresh
// until ctx is done. A failed refresh keeps the previous set.
func jwksKeyfunc(ctx context.Context, url string, client *http.Client, refresh time.Duration) (jwt.Keyfunc, error) {
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
	if err != nil {
		return nil, err
	}
	var cur atomic.Value
	cur.Store(set)
	if refresh > 0 {
		go func() {
			t := time.NewTicker(refresh)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					next, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
					if err != nil {
						log.Warn().Err(err).Str("jwks_url", url).Msg("refresh jwks")
						continue
					}
					cur.Store(next)
				}
			}
		}()
	}
	return func(t *jwt.Token) (any, error) {
		return keyFor(cur.Load().(jwk.Set), t)
	}, nil
}

// keyFor picks the key named by the token's kid, or the first key of the set
// when the token has none.
func keyFor(set jwk.Set, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	var key jwk.Key
	if kid != "" {
		k, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no jwk for kid: %s", kid)
		}
		key = k
	} else {
		k, ok := set.Key(0)
		if !ok {
			return nil, errors.New("empty jwk set")
		}
		key = k
	}
	var pub any
	if err := key.Raw(&pub); err != nil {
		return nil, err
	}
	return pub, nil
}
