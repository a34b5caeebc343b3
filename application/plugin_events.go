package application

// PluginEvents is the plugin boundary of spec.md §4.7: a pure interface
// with no lifecycle of its own. The broker and peer call into it
// exclusively through these hooks, synchronously on the dispatch goroutine
// — an implementation that needs to do real work must offload it itself.
//
// There is no behavior to ground this on in the teacher (TunGo has no
// plugin system); the shape follows spec.md's literal hook list.
type PluginEvents interface {
	// OnLoginSet is called whenever the broker's membership view changes in
	// a way that grows it: a new peer logged in. ids is the full current
	// membership list.
	OnLoginSet(ids []string)

	// OnLogoutSet is called whenever membership shrinks: a peer
	// disconnected. ids is the full current membership list.
	OnLogoutSet(ids []string)

	// OnConnected fires once this endpoint's own handshake completes
	// (broker: a new peer logged in to us; peer: we logged in to the
	// broker).
	OnConnected()

	// OnDisconnected fires once this endpoint's connection is torn down.
	OnDisconnected()

	// OnData delivers a received data-send payload addressed to pluginID,
	// from fromID.
	OnData(pluginID, fromID string, payload []byte)

	// OnFile is called once a file transfer addressed to pluginID from
	// fromID has been fully assembled and verified at path.
	OnFile(pluginID, fromID, path string)
}

// NoopPluginEvents is a PluginEvents that does nothing; useful as a default
// when the embedding application has not wired a real implementation yet.
type NoopPluginEvents struct{}

func (NoopPluginEvents) OnLoginSet([]string)               {}
func (NoopPluginEvents) OnLogoutSet([]string)               {}
func (NoopPluginEvents) OnConnected()                       {}
func (NoopPluginEvents) OnDisconnected()                    {}
func (NoopPluginEvents) OnData(string, string, []byte)      {}
func (NoopPluginEvents) OnFile(string, string, string)      {}
