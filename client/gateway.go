package client

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"hm-binrpc/codec"
	"hm-binrpc/message"
)

// Interface is a gateway subsystem with its own RPC port.
type Interface string

const (
	InterfaceRF     Interface = "BidCos-RF"
	InterfaceWired  Interface = "BidCos-Wired"
	InterfaceHmIP   Interface = "HmIP-RF"
	InterfaceCUxD   Interface = "CUxD"
	InterfaceGroups Interface = "VirtualDevices"
)

// ParamsetType selects a channel's parameter set.
type ParamsetType string

const (
	ParamsetMaster ParamsetType = "MASTER"
	ParamsetValues ParamsetType = "VALUES"
	ParamsetLink   ParamsetType = "LINK"
)

// Datapoint identifies a single writable parameter of a channel.
type Datapoint struct {
	Address  string // channel address, e.g. "ABC1234567:1"
	Name     string // e.g. "STATE"
	Paramset ParamsetType
	Type     codec.ParamType
}

// RPCAddress rewrites group addresses ("T-xxx") to the gateway's form ("*xxx").
func RPCAddress(address string) string {
	if rest, ok := strings.CutPrefix(address, "T-"); ok {
		return "*" + rest
	}
	return address
}

// Init registers callbackURL with the gateway for iface.
func (c *Client) Init(ctx context.Context, iface Interface, callbackURL, clientID string) error {
	_, err := c.invokeOn(ctx, iface, "init", message.String(callbackURL), message.String(clientID))
	return err
}

// Release unregisters callbackURL; init without a client id.
func (c *Client) Release(ctx context.Context, iface Interface, callbackURL string) error {
	_, err := c.invokeOn(ctx, iface, "init", message.String(callbackURL))
	return err
}

// CheckInterface returns nil if the gateway serves iface.
func (c *Client) CheckInterface(ctx context.Context, iface Interface) error {
	_, err := c.invokeOn(ctx, iface, "init", message.String(c.cfg.ValidationURL))
	return err
}

// ValidateConnection probes iface with a cheap read-only call.
func (c *Client) ValidateConnection(ctx context.Context, iface Interface) error {
	_, err := c.invokeOn(ctx, iface, "listBidcosInterfaces")
	return err
}

func (c *Client) ListBidcosInterfaces(ctx context.Context, iface Interface) (message.Array, error) {
	v, err := c.invokeOn(ctx, iface, "listBidcosInterfaces")
	if err != nil {
		return nil, err
	}
	return expectArray("listBidcosInterfaces", v)
}

// ListDevices returns one device description struct per device and channel.
func (c *Client) ListDevices(ctx context.Context, iface Interface) (message.Array, error) {
	v, err := c.invokeOn(ctx, iface, "listDevices")
	if err != nil {
		return nil, err
	}
	return expectArray("listDevices", v)
}

func (c *Client) GetDeviceDescription(ctx context.Context, iface Interface, address string) (message.Struct, error) {
	v, err := c.invokeOn(ctx, iface, "getDeviceDescription", message.String(RPCAddress(address)))
	if err != nil {
		return nil, err
	}
	return expectStruct("getDeviceDescription", v)
}

func (c *Client) GetParamsetDescription(ctx context.Context, iface Interface, address string, paramset ParamsetType) (message.Struct, error) {
	v, err := c.invokeOn(ctx, iface, "getParamsetDescription",
		message.String(RPCAddress(address)), message.String(paramset))
	if err != nil {
		return nil, err
	}
	return expectStruct("getParamsetDescription", v)
}

func (c *Client) GetParamset(ctx context.Context, iface Interface, address string, paramset ParamsetType) (message.Struct, error) {
	v, err := c.invokeOn(ctx, iface, "getParamset",
		message.String(RPCAddress(address)), message.String(paramset))
	if err != nil {
		return nil, err
	}
	return expectStruct("getParamset", v)
}

func (c *Client) GetValue(ctx context.Context, iface Interface, address, datapoint string) (message.Value, error) {
	return c.invokeOn(ctx, iface, "getValue", message.String(RPCAddress(address)), message.String(datapoint))
}

// GetChannelValues reads the VALUES paramset of a channel. Gateways that
// cannot serve getParamset for a channel answer with the unknown failure;
// the values are then read one datapoint at a time. CUxD never serves
// getParamset and always takes the per-datapoint path.
func (c *Client) GetChannelValues(ctx context.Context, iface Interface, address string, datapoints []string) (message.Struct, error) {
	if iface != InterfaceCUxD {
		values, err := c.GetParamset(ctx, iface, address, ParamsetValues)
		if err == nil || !IsUnknownFailure(err) {
			return values, err
		}
		c.logger.Debug("Unknown RPC failure (-1 Failure), fetching values with getValue",
			zap.String("address", address))
	}

	values := make(message.Struct, len(datapoints))
	for _, dp := range datapoints {
		v, err := c.GetValue(ctx, iface, address, dp)
		if err != nil {
			return nil, err
		}
		values[dp] = v
	}
	return values, nil
}

// SetValue writes v to dp, coercing it to the datapoint's declared type.
// MASTER parameters are written through putParamset.
func (c *Client) SetValue(ctx context.Context, iface Interface, dp Datapoint, v message.Value) error {
	v = codec.Coerce(v, dp.Type)
	if dp.Paramset == ParamsetMaster {
		return c.PutParamset(ctx, iface, dp.Address, ParamsetMaster, message.Struct{dp.Name: v})
	}
	_, err := c.invokeOn(ctx, iface, "setValue",
		message.String(RPCAddress(dp.Address)), message.String(dp.Name), v)
	return err
}

func (c *Client) PutParamset(ctx context.Context, iface Interface, address string, paramset ParamsetType, values message.Struct) error {
	_, err := c.invokeOn(ctx, iface, "putParamset",
		message.String(RPCAddress(address)), message.String(paramset), values)
	return err
}

// GetAllSystemVariables returns name → value of every system variable (Homegear).
func (c *Client) GetAllSystemVariables(ctx context.Context, iface Interface) (message.Struct, error) {
	v, err := c.invokeOn(ctx, iface, "getAllSystemVariables")
	if err != nil {
		return nil, err
	}
	return expectStruct("getAllSystemVariables", v)
}

func (c *Client) SetSystemVariable(ctx context.Context, iface Interface, name string, v message.Value) error {
	_, err := c.invokeOn(ctx, iface, "setSystemVariable", message.String(name), v)
	return err
}

// GetAllScripts returns the names of the gateway's scripts (Homegear).
func (c *Client) GetAllScripts(ctx context.Context, iface Interface) (message.Array, error) {
	v, err := c.invokeOn(ctx, iface, "getAllScripts")
	if err != nil {
		return nil, err
	}
	return expectArray("getAllScripts", v)
}

func (c *Client) RunScript(ctx context.Context, iface Interface, name string) error {
	_, err := c.invokeOn(ctx, iface, "runScript", message.String(name))
	return err
}

// GetDeviceInfo returns Homegear's device info list, which carries device names.
func (c *Client) GetDeviceInfo(ctx context.Context, iface Interface) (message.Array, error) {
	v, err := c.invokeOn(ctx, iface, "getDeviceInfo")
	if err != nil {
		return nil, err
	}
	return expectArray("getDeviceInfo", v)
}

// SetInstallMode enables or disables pairing for seconds.
func (c *Client) SetInstallMode(ctx context.Context, iface Interface, enable bool, seconds int) error {
	_, err := c.invokeOn(ctx, iface, "setInstallMode",
		message.Bool(enable), message.Int(int32(seconds)), message.Int(1))
	return err
}

func (c *Client) DeleteDevice(ctx context.Context, iface Interface, address string, flags int) error {
	_, err := c.invokeOn(ctx, iface, "deleteDevice", message.String(address), message.Int(int32(flags)))
	return err
}
