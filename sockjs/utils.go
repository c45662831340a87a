package sockjs

import (
	"fmt"
	"math/rand/v2"
	"net/url"

	"github.com/oklog/ulid/v2"
)

// sessionURL builds {base}/{server_id}/{session_id}.
func sessionURL(base *url.URL) *url.URL {
	return base.JoinPath(newServerID(), newSessionID())
}

// server id is three random digits, used by load balancers for routing
func newServerID() string {
	return fmt.Sprintf("%03d", rand.IntN(1000))
}

func newSessionID() string {
	return ulid.Make().String()
}
