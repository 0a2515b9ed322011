package relay

// Handle is the view of a session offered to hooks. It is valid for the
// connection the chunk arrived on; sends after that connection ended are
// dropped.
type Handle interface {
	Name() string
	SendData(to Role, data []byte)
	SendToClient(data []byte)
	SendToServer(data []byte)
	// Disconnect tears the current connection down without waiting, so it is
	// safe to call from inside Handle.
	Disconnect()
	Settings() Settings
	Setting(key SettingKey) (any, error)
	SetSetting(key SettingKey, value any) error
}

// Hook is invoked synchronously for every chunk read from either side. It
// decides what, if anything, gets forwarded. A returned error or a panic is
// logged and the pump keeps running; the chunk counts as consumed.
//
// Hooks may be swapped between calls at any time, so configuration belongs
// in the session settings rather than in the hook value.
type Hook interface {
	Handle(data []byte, h Handle, origin Role) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(data []byte, h Handle, origin Role) error

func (f HookFunc) Handle(data []byte, h Handle, origin Role) error { return f(data, h, origin) }

// PassThrough forwards every chunk unchanged to the opposite side.
var PassThrough Hook = HookFunc(func(data []byte, h Handle, origin Role) error {
	h.SendData(origin.Opposite(), data)
	return nil
})

type hookBox struct{ hook Hook }
