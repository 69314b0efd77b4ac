package subscription

import (
	"net/url"

	"github.com/pkg/errors"
)

var ErrMissingEndpoint = errors.New("graphql endpoint is not configured")

// EndpointFromHTTP derives the websocket subscription endpoint from the
// configured HTTP(S) GraphQL endpoint by swapping the scheme.
func EndpointFromHTTP(httpEndpoint string) (string, error) {
	if httpEndpoint == "" {
		return "", ErrMissingEndpoint
	}

	u, err := url.Parse(httpEndpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse graphql endpoint")
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket endpoint
	default:
		return "", errors.Errorf("unsupported graphql endpoint scheme %q", u.Scheme)
	}

	return u.String(), nil
}
