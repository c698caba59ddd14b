package wsproto

// Sender is the minimal outbound capability a handler needs: encode v as
// JSON and deliver it to the client. The production implementation wraps
// *gorilla/websocket.Conn.WriteJSON; tests substitute an in-memory
// recorder, the same substitution contractgw's RPCClient and vectorindex's
// Fetcher interfaces allow for their own externals.
type Sender interface {
	Send(v interface{}) error
}

// FuncSender adapts a plain function to Sender.
type FuncSender func(v interface{}) error

func (f FuncSender) Send(v interface{}) error { return f(v) }
