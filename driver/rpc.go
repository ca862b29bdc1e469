package driver

import "rubin.dev/spvnode/rpc"

// dispatchRPC answers one RPC call against the driver's current state.
func (d *Driver) dispatchRPC(method string, params map[string]any) (any, error) {
	return rpc.Dispatch(rpc.Request{Method: method, Params: params}, d)
}
