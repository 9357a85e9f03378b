package model

// DecodedEvent is a LogRecord interpreted against one known event schema.
// Indexed holds the topic-slot parameters in schema order, Body the
// parameters unpacked from the data payload in schema order.
type DecodedEvent struct {
	Kind    string
	Indexed []Value
	Body    []Value
	Raw     *LogRecord
}
