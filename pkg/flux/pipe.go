package flux

// SubscribeFunc is a raw event source: it registers onChange and returns the
// function that unregisters it.
type SubscribeFunc func(onChange func()) Unsubscribe

type upstreamKind uint8

const (
	upstreamNode upstreamKind = iota + 1
	upstreamFunc
)

// Upstream describes what a pipe pulls from: another node (From) or a raw
// event source (FromFunc).
type Upstream struct {
	kind upstreamKind
	node AnyNode
	fn   SubscribeFunc
}

// From makes n the upstream of a pipe. The pipe re-syncs on every value
// notification of n and forwards n's errors to its own error channel.
func From(n AnyNode) Upstream {
	return Upstream{kind: upstreamNode, node: n}
}

// FromFunc makes a raw event source the upstream of a pipe.
func FromFunc(fn SubscribeFunc) Upstream {
	return Upstream{kind: upstreamFunc, fn: fn}
}

func (u Upstream) attach(onChange func(), onError func(error)) Unsubscribe {
	switch u.kind {
	case upstreamNode:
		return u.node.subscribeChange(onChange, onError)
	case upstreamFunc:
		if off := u.fn(onChange); off != nil {
			return off
		}
	}
	return func() {}
}

func (u Upstream) config() *config {
	if u.kind == upstreamNode {
		return u.node.nodeConfig()
	}
	return nil
}

// Derivation holds the callbacks of a pipe. Every callback receives the pipe
// itself.
type Derivation[T any] struct {
	// Sync pulls the current upstream state into the pipe, usually through
	// self.Set. It runs on connect and on every upstream notification.
	Sync func(self *Node[T])

	// OnSet runs after every Set on the pipe, including the ones made by
	// Sync. Two-way pipes use it to write back to their upstream.
	OnSet func(value T, self *Node[T])

	// OnInit runs before the first Sync of a connection (or of a lazy Get).
	OnInit func(self *Node[T])

	// OnDispose runs after the upstream connection was closed. Timers and
	// in-flight work owned by the pipe are released here.
	OnDispose func(self *Node[T])
}

// pipe is the derived-node state. Every field is guarded by the owning
// Node's mutex.
type pipe[T any] struct {
	up Upstream
	d  Derivation[T]

	initialized bool
	connected   bool
	gen         uint64
	dispose     Unsubscribe
}

// Derive creates a pipe over up. Nothing touches up until the pipe gets its
// first listener or its first Get.
func Derive[T any](up Upstream, d Derivation[T], opts ...Option) *Node[T] {
	var zero T
	return derive(up, d, zero, up.config(), "", opts)
}

func derive[T any](up Upstream, d Derivation[T], initial T, parent *config, suffix string, opts []Option) *Node[T] {
	return &Node[T]{
		cfg:   newConfig(parent, suffix, opts),
		value: initial,
		pipe:  &pipe[T]{up: up, d: d},
	}
}

func (p *pipe[T]) ensureInit(n *Node[T]) {
	n.mu.Lock()
	if p.initialized {
		n.mu.Unlock()
		return
	}
	p.initialized = true
	n.mu.Unlock()

	p.init(n)
	p.sync(n)
}

func (p *pipe[T]) connect(n *Node[T]) {
	n.mu.Lock()
	if p.connected || len(n.entries) == 0 {
		n.mu.Unlock()
		return
	}
	p.connected = true
	p.gen++
	gen := p.gen
	n.mu.Unlock()

	dispose := p.up.attach(
		func() { p.pull(n, gen) },
		func(err error) {
			if p.live(n, gen) {
				n.SetError(err)
			}
		},
	)

	n.mu.Lock()
	if !p.connected || p.gen != gen {
		// Lost the last listener while attaching.
		n.mu.Unlock()
		dispose()
		return
	}
	p.dispose = dispose
	p.initialized = true
	n.mu.Unlock()

	n.cfg.logger.Debug("flux pipe connected", "node", n.cfg.name)
	n.cfg.observer.Connected(n.cfg.name)

	// A new connection always starts from a fresh pull.
	p.init(n)
	p.sync(n)
}

func (p *pipe[T]) disconnect(n *Node[T], onlyIdle bool) {
	n.mu.Lock()
	if !p.connected || (onlyIdle && len(n.entries) > 0) {
		n.mu.Unlock()
		return
	}
	p.connected = false
	p.gen++
	p.initialized = false
	dispose := p.dispose
	p.dispose = nil
	n.mu.Unlock()

	if dispose != nil {
		dispose()
	}
	if p.d.OnDispose != nil {
		p.d.OnDispose(n)
	}

	n.cfg.logger.Debug("flux pipe disconnected", "node", n.cfg.name)
	n.cfg.observer.Disconnected(n.cfg.name)
}

func (p *pipe[T]) live(n *Node[T], gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return p.connected && p.gen == gen
}

// pull handles one upstream notification of connection gen.
func (p *pipe[T]) pull(n *Node[T], gen uint64) {
	n.mu.Lock()
	if !p.connected || p.gen != gen {
		n.mu.Unlock()
		return
	}
	first := !p.initialized
	p.initialized = true
	n.mu.Unlock()

	if first {
		p.init(n)
	}
	p.sync(n)
}

func (p *pipe[T]) init(n *Node[T]) {
	if p.d.OnInit != nil {
		p.d.OnInit(n)
	}
}

func (p *pipe[T]) sync(n *Node[T]) {
	if p.d.Sync != nil {
		p.d.Sync(n)
	}
}

// Connected reports whether the node is a pipe with an open upstream
// connection.
func (n *Node[T]) Connected() bool {
	if n.pipe == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pipe.connected
}
