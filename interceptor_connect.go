package fastclient

import (
	"errors"
	"fmt"

	"github.com/searchktools/fastclient/internal/connfinder"
	"github.com/searchktools/fastclient/internal/exchange"
)

// connectInterceptor is the "connect" stage: it allocates the
// attempt's Exchange via the connection finder, then drives the network
// interceptors (skipped for WebSocket calls) and the terminal
// CallServerStage as a sub-chain, since those stages are not part of the
// client's top-level interceptor slice.
type connectInterceptor struct {
	client              *Client
	networkInterceptors []Interceptor
}

var _ Interceptor = (*connectInterceptor)(nil)

func (ci *connectInterceptor) Intercept(chain Chain) (*Response, error) {
	req := chain.Request()
	call, ok := chain.Call().(*realCall)
	if !ok {
		return nil, ErrChainContractViolation
	}

	address := ci.client.buildAddress(req)
	requireMultiplexed := false

	result, attempt, err := ci.client.finder.Find(req.Context(), call.token, address, call.currentConnection(), requireMultiplexed, call.getFinderAttempt())
	call.setFinderAttempt(attempt)
	if err != nil {
		if errors.Is(err, connfinder.ErrNoRouteLeft) {
			err = fmt.Errorf("%w: %w", ErrNoRoute, err)
		}
		return nil, err
	}

	exch := exchange.New(result.Connection, result.Codec, call)
	call.setExchange(exch, result.Connection)
	ci.client.eventListener().ConnectionReleased(call, result.Route)

	isWebSocket, _ := req.Tags["websocket"].(bool)

	stages := make([]Interceptor, 0, len(ci.networkInterceptors)+1)
	if !isWebSocket {
		stages = append(stages, ci.networkInterceptors...)
	}
	stages = append(stages, &callServerInterceptor{client: ci.client})

	subChain := newSubChain(ci.client, call, req, stages, exch)
	return subChain.Proceed(req)
}
