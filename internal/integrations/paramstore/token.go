package paramstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// tokenPayload is the JSON shape stored for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// Token reads a parameter holding {"token": "..."} and returns the token.
func Token(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", errors.Wrap(err, "paramstore: fetch token")
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", errors.Wrap(err, "paramstore: unmarshal token value as JSON")
	}
	if tp.Token == "" {
		return "", errors.Errorf("paramstore: token %q is empty", name)
	}
	return tp.Token, nil
}

// tokenFetchTimeout bounds one lazy fetch.
const tokenFetchTimeout = 10 * time.Second

// LazyToken returns a resolver that fetches the token on first use and
// reuses it for the process lifetime. Failed fetches are not cached; the
// next call tries again. The fetch is detached from the caller's
// cancellation so a client that goes away does not fail it.
func LazyToken(getter Getter, name string) func(ctx context.Context) (string, error) {
	var (
		mu    sync.Mutex
		token string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" {
			return token, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		t, err := Token(fetchCtx, getter, name)
		if err != nil {
			return "", err
		}
		token = t
		return token, nil
	}
}
