package gateway

import "github.com/joao-fontenele/escrowflow/internal/config"

// Upstreams are the base URLs the gateway proxies to. The market URL uses
// the same MARKET_URL key as the authority's callback target.
type Upstreams struct {
	Market    string
	Authority string
}

func UpstreamsFromEnv() (Upstreams, error) {
	market, err := config.Required("MARKET_URL")
	if err != nil {
		return Upstreams{}, err
	}
	authority, err := config.Required("AUTHORITY_URL")
	if err != nil {
		return Upstreams{}, err
	}
	return Upstreams{Market: market, Authority: authority}, nil
}
