package resp

// Command is an opaque outbound command token: a command name plus its
// arguments. The hundreds of typed command wrappers (GET, HSET, ZADD, ...)
// live outside the core, which only ever sees Args.
type Command struct {
	Args [][]byte
}

// NewCommand builds a Command from string arguments, a convenience for
// tests and the example client; typed wrappers outside the core would
// build Args directly from already-encoded argument bytes.
func NewCommand(args ...string) Command {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return Command{Args: raw}
}

// Encode appends the RESP2 array-of-bulk-strings wire form of cmd to b,
// the frame every Redis-style server expects for a client request
// regardless of whether replies come back as RESP2 or RESP3.
func (cmd Command) Encode(b []byte) []byte {
	b = AppendArrayHeader(b, len(cmd.Args))
	for _, arg := range cmd.Args {
		b = AppendBulk(b, arg)
	}
	return b
}
