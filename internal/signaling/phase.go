package signaling

// Phase viewer session phase; exactly one of the types below
type Phase interface {
	State() ConnectionState
	phase()
}

// Idle not started
type Idle struct{}

// Offered offer published (or being published), waiting for the answer
type Offered struct{ SessionID string }

// Answered remote answer applied, ICE in progress
type Answered struct{ SessionID string }

// Connected peer reported connected
type Connected struct{ SessionID string }

// Failed terminal; Err is the cause
type Failed struct{ Err error }

// Closed terminal, stopped on request
type Closed struct{}

func (Idle) State() ConnectionState      { return StateDisconnected }
func (Offered) State() ConnectionState   { return StateConnecting }
func (Answered) State() ConnectionState  { return StateConnecting }
func (Connected) State() ConnectionState { return StateConnected }
func (Failed) State() ConnectionState    { return StateFailed }
func (Closed) State() ConnectionState    { return StateClosed }

func (Idle) phase()      {}
func (Offered) phase()   {}
func (Answered) phase()  {}
func (Connected) phase() {}
func (Failed) phase()    {}
func (Closed) phase()    {}

// Terminal phases accept no further transitions
func Terminal(p Phase) bool {
	switch p.(type) {
	case Failed, Closed:
		return true
	}
	return false
}

// CanTransition disconnected -> connecting -> connected, or any live phase to failed/closed
func CanTransition(from, to Phase) bool {
	if Terminal(from) {
		return false
	}
	switch to.(type) {
	case Failed, Closed:
		return true
	case Offered:
		_, ok := from.(Idle)
		return ok
	case Answered:
		_, ok := from.(Offered)
		return ok
	case Connected:
		_, ok := from.(Answered)
		return ok
	}
	return false
}
