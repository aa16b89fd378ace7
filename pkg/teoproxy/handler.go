package teoproxy

// Handler receives client notifications. Calls for one client never overlap.
type Handler interface {
	// OnConnect is called after the peer accepted the connection and
	// before any packet is delivered.
	OnConnect()

	// OnClose is called once when an established connection ends. err is
	// nil after Close.
	OnClose(err error)

	// OnMessage is called for every packet received from the proxy.
	OnMessage(p *Packet)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect func()
	Close   func(err error)
	Message func(p *Packet)
}

func (h HandlerFuncs) OnConnect() {
	if h.Connect != nil {
		h.Connect()
	}
}

func (h HandlerFuncs) OnClose(err error) {
	if h.Close != nil {
		h.Close(err)
	}
}

func (h HandlerFuncs) OnMessage(p *Packet) {
	if h.Message != nil {
		h.Message(p)
	}
}
