package tool

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the magic-cookie handshake a tool plugin binary must
// present before the TOOLSMITH role will talk to it, mirroring the
// teacher's gRPC plugin loader's handshake discipline for the simpler
// net/rpc transport this contract uses.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TRINITY_TOOL_PLUGIN",
	MagicCookieValue: "trinity_tool_plugin_v1",
}

// pluginKey names the single dispensed type every tool plugin binary serves.
const pluginKey = "tool"

// Plugin adapts a Tool to hashicorp/go-plugin's net/rpc Plugin interface,
// used on the host (Client) side to dispense a ToolRPCClient, and on the
// plugin binary's side (Impl set) to serve a ToolRPCServer.
type Plugin struct {
	Impl Tool
}

func (p *Plugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &toolRPCServer{impl: p.Impl}, nil
}

func (p *Plugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &toolRPCClient{client: c}, nil
}

type invokeArgs struct {
	Args map[string]any
}

type invokeResult struct {
	Result map[string]any
}

// toolRPCClient is the host-side stub: every call crosses the wire to the
// plugin subprocess via net/rpc.
type toolRPCClient struct {
	client *rpc.Client
	name   string
}

func (c *toolRPCClient) Name() string { return c.name }

func (c *toolRPCClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	var resp invokeResult
	if err := c.client.Call("Plugin.Invoke", &invokeArgs{Args: args}, &resp); err != nil {
		return nil, fmt.Errorf("tool: plugin rpc call: %w", err)
	}
	return resp.Result, nil
}

// toolRPCServer runs inside the plugin subprocess, dispatching incoming
// net/rpc calls to the real Tool implementation.
type toolRPCServer struct {
	impl Tool
}

func (s *toolRPCServer) Invoke(args *invokeArgs, resp *invokeResult) error {
	out, err := s.impl.Invoke(context.Background(), args.Args)
	resp.Result = out
	return err
}

// Loader installs out-of-process tool plugins for the TOOLSMITH role.
// Each Load spawns a subprocess, performs the handshake, and wraps the
// dispensed stub as a Tool under name.
type Loader struct {
	logger hclog.Logger
}

// NewLoader returns a Loader logging through the given hclog.Logger, or a
// default one at Info level if nil.
func NewLoader(logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "trinity-tool-plugin", Level: hclog.Info})
	}
	return &Loader{logger: logger}
}

// Loaded is a running plugin handle: the Tool it serves, and the
// underlying client so Close can terminate the subprocess cleanly.
type Loaded struct {
	Tool   Tool
	client *goplugin.Client
}

// Close terminates the plugin subprocess.
func (l *Loaded) Close() {
	if l.client != nil {
		l.client.Kill()
	}
}

// Load spawns the executable at path, performs the handshake, and
// dispenses its Tool implementation under name.
func (l *Loader) Load(ctx context.Context, name, path string) (*Loaded, error) {
	clientConfig := &goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]goplugin.Plugin{pluginKey: &Plugin{}},
		Cmd:             exec.CommandContext(ctx, path),
		Logger:          l.logger,
		AllowedProtocols: []goplugin.Protocol{
			goplugin.ProtocolNetRPC,
		},
	}

	client := goplugin.NewClient(clientConfig)
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("tool: connect to plugin %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense(pluginKey)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("tool: dispense plugin %s: %w", path, err)
	}

	stub, ok := raw.(*toolRPCClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("tool: plugin %s does not implement the tool contract", path)
	}
	stub.name = name

	return &Loaded{Tool: stub, client: client}, nil
}
