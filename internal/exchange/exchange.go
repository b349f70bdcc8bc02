package exchange

import (
	"context"
	"net/url"

	"exchange-dashboard/internal/core"
)

// Caller is what endpoint adapters need from the client.
type Caller interface {
	Call(ctx context.Context, id core.ExchangeID, cred core.Credential, method, path string, query url.Values, body any) (Response, error)
	Public(ctx context.Context, id core.ExchangeID, path string, query url.Values) (Response, error)
}

var _ Caller = (*Client)(nil)
