package domain

import "strings"

// DefaultCommand is invoked when the chat input names only an extension,
// e.g. "/foo" runs foo's "default" command.
const DefaultCommand = "default"

// ChatCommand is the parsed form of a chat-input command line.
type ChatCommand struct {
	ExtensionID string
	Command     string
	Args        []string
}

// Valid reports whether parsing produced both an extension id and a command
// name. Validity is deliberately separate from ParseChatCommand so that
// malformed commands ("/-write") can be reported distinctly from plain chat
// text.
func (c ChatCommand) Valid() bool {
	return c.ExtensionID != "" && c.Command != ""
}

// ParseChatCommand turns a raw chat input line into a ChatCommand. The second
// return value is false when the input is not a command at all (no leading
// slash after trimming). The head token is split at its first '-' into
// extension id and command; without a '-' the command is DefaultCommand.
// Arguments are whitespace-separated; there is no quoting, so an argument
// cannot contain whitespace.
func ParseChatCommand(input string) (ChatCommand, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return ChatCommand{}, false
	}
	fields := strings.Fields(trimmed[1:])
	head := ""
	args := []string{}
	if len(fields) > 0 {
		head = fields[0]
		args = fields[1:]
	}
	extensionID := head
	command := DefaultCommand
	if idx := strings.Index(head, "-"); idx >= 0 {
		extensionID = head[:idx]
		command = head[idx+1:]
	}
	return ChatCommand{ExtensionID: extensionID, Command: command, Args: args}, true
}
