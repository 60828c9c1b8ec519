package llm

// EventType discriminates the events produced while streaming a chat
// completion through the tool-call round loop.
type EventType string

const (
	EventDelta      EventType = "delta"       // incremental assistant text
	EventToolCall   EventType = "tool_call"   // a tool invocation was announced
	EventToolResult EventType = "tool_result" // a tool produced its result
	EventImage      EventType = "image"       // a tool produced an image
	EventDone       EventType = "done"        // terminal: full text in FullText
	EventError      EventType = "error"       // terminal: Err is set
)

// GeneratedImage is the typed side-channel for image-producing tools. The
// model only ever sees the textual confirmation; the image itself travels to
// the client through an EventImage.
type GeneratedImage struct {
	DataURL       string
	RevisedPrompt string
}

// ToolOutcome is what a tool execution yields: the text fed back to the model
// as the tool turn, plus an optional image for the client side-channel.
type ToolOutcome struct {
	Text  string
	Image *GeneratedImage
}

type Event struct {
	Type       EventType
	Content    string          // EventDelta
	ToolName   string          // EventToolCall, EventToolResult
	ToolArgs   string          // EventToolCall: raw argument JSON
	ToolResult string          // EventToolResult
	Image      *GeneratedImage // EventImage
	FullText   string          // EventDone: whole concatenated response
	Err        error           // EventError
}
